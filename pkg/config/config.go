package config

import (
	"context"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ammex.com/pkg/logger"
)

// LoadAndWatch 约定：config/{service}.yaml，环境变量前缀为大写服务名。
// 文件变更后重新 Unmarshal 到 out，并回调 onChange（可为 nil）。
func LoadAndWatch(service string, out interface{}, onChange ...func()) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	// 环境变量覆盖，例如：
	//   EXCHANGE_DB_DSN 覆盖 db.dsn
	//   EXCHANGE_ENGINE_QUOTE_ASSET 覆盖 engine.quote_asset
	v.SetEnvPrefix(strings.ToUpper(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := Decode(v, out); err != nil {
		return nil, err
	}

	ctx := context.Background()
	logger.Info(ctx, "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name))
		if err := Decode(v, out); err != nil {
			logger.Error(ctx, "reload config error", zap.Error(err))
			return
		}
		for _, fn := range onChange {
			if fn != nil {
				fn()
			}
		}
	})

	return v, nil
}

// Decode 带上 decimal / duration / 逗号切片 的解码 hook
func Decode(v *viper.Viper, out interface{}) error {
	return v.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		StringToDecimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// StringToDecimalHook 金额类配置一律写成字符串，避免 float 精度问题
func StringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			if strings.TrimSpace(val) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(val))
		case int:
			return decimal.NewFromInt(int64(val)), nil
		case int64:
			return decimal.NewFromInt(val), nil
		case float64:
			return decimal.NewFromFloat(val), nil
		}
		return data, nil
	}
}
