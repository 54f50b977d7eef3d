// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package cmd

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/cs3org/sweettooth/service"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SWEETTOOTH"

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level         string `mapstructure:"level"`
	Output        string `mapstructure:"output"`
	DisableStdout bool   `mapstructure:"disable_stdout"`
}

type Config struct {
	HTTP       HTTPConfig     `mapstructure:"http"`
	Log        LogConfig      `mapstructure:"log"`
	Sweettooth service.Config `mapstructure:"sweettooth"`
}

// keys that can be set from the environment,
// e.g. SWEETTOOTH_SWEETTOOTH_DB_DSN for sweettooth.db.dsn
var envKeys = []string{
	"http.address",
	"log.level",
	"log.output",
	"log.disable_stdout",
	"sweettooth.db.driver",
	"sweettooth.db.dsn",
	"sweettooth.db.submit_attempts",
	"sweettooth.storage_root",
	"sweettooth.notify.sender",
	"sweettooth.notify.site_name",
	"sweettooth.notify.site_url",
	"sweettooth.mail.transport",
	"sweettooth.mail.host",
	"sweettooth.mail.port",
	"sweettooth.mail.username",
	"sweettooth.mail.password",
	"sweettooth.jwt_secret",
	"sweettooth.token_ttl",
	"sweettooth.max_upload_size",
	"sweettooth.featured.repository",
	"sweettooth.featured.branch",
	"sweettooth.featured.file",
	"sweettooth.featured.interval",
}

func initConfig(file, envFile string, required bool) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cobra.CheckErr(err)
	}

	viper.SetDefault("http.address", ":8080")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, k := range envKeys {
		cobra.CheckErr(viper.BindEnv(k))
	}

	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		// the default config file is optional
		if required || !errors.Is(err, fs.ErrNotExist) {
			cobra.CheckErr(err)
		}
	}

	cfg, err := decodeConfig(viper.AllSettings())
	cobra.CheckErr(err)
	config = cfg
}

func decodeConfig(settings map[string]any) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, err
	}
	return &cfg, nil
}
