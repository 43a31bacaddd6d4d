// Package conf 基于 viper 加载服务配置：YAML 文件 + 环境变量覆盖。
//
// 环境变量命名规则为 {PREFIX}_{KEY}，嵌套键使用下划线连接，例如
// TASKFLOW_KAFKA_BROKERS、TASKFLOW_RETRY_MAXRETRIES。
package conf

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Load 将配置文件与环境变量合并后解码到 out。
//
// out 必须是指向结构体的指针，调用方应预先填充默认值，文件与环境变量只覆盖出现的字段。
// path 为空时只读取环境变量。
func Load(path, envPrefix string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.New("conf: out must be a non-nil pointer to struct")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// AutomaticEnv 只对已知键生效，Unmarshal 前需要显式绑定所有键
	bindEnvs(v, rv.Elem().Type(), "")

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("mapstructure")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		name = strings.Split(name, ",")[0]
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			bindEnvs(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}
