package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/health"
)

const (
	// ConfigEnvVar names an additional configuration file merged over the defaults.
	ConfigEnvVar = "PROMINENCE_CONFIG"
	envPrefix    = "PROMINENCE"
)

// BindCommandlineArguments makes every flag defined on the global flag set available through viper.
func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads config.yaml from defaultPath, then merges each of the override files in order,
// then the file named by PROMINENCE_CONFIG if set. Environment variables prefixed with PROMINENCE_
// take precedence over all files, with nested keys separated by underscores, e.g.
// PROMINENCE_NATS_URL overrides nats.url. Only keys present in at least one file can be overridden.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config from %s: %v", defaultPath, err)
		}
		log.Warnf("No base config found in %s", defaultPath)
	} else {
		log.Infof("Read base config from %s", v.ConfigFileUsed())
	}

	if path, ok := os.LookupEnv(ConfigEnvVar); ok && path != "" {
		overrideConfigs = append(overrideConfigs, path)
	}
	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config from %s: %v", overrideConfig, err)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return nil, err
	}
	return v, nil
}

// ConfigureLogging sets up logrus for a long-running service. LOG_FORMAT=json switches to
// json output and LOG_LEVEL sets the minimum level (info by default).
func ConfigureLogging() {
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	log.AddHook(promrus.MustNewPrometheusHook())
}

// ServeHttp exposes prometheus metrics on /metrics and the given checker on /health.
// The returned function shuts the server down.
func ServeHttp(port uint16, checker health.Checker) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.SetupHttpMux(mux, checker)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("Serving metrics and health on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %s", srv.Addr)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("failed to stop http server")
		}
	}
}
