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
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log    *zerolog.Logger
	config *Config
)

var globalFlags = struct {
	Config string
	Env    string
}{}

var rootCmd = &cobra.Command{
	Use:   "sweettooth",
	Short: "Host and review shell extensions.",
	Long: "SweetTooth hosts a catalog of shell extensions. Creators upload\n" +
		"their extensions, reviewers approve or reject them, and the shell\n" +
		"downloads and updates the approved versions.",
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Config, "config", "c", "/etc/sweettooth/config.toml", "config path")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Env, "env-file", ".env", "dotenv file loaded before the config")
	cobra.OnInitialize(func() {
		initConfig(globalFlags.Config, globalFlags.Env, rootCmd.PersistentFlags().Changed("config"))
		cobra.CheckErr(initLogger(&config.Log))
	})

	err := viper.BindPFlags(rootCmd.Flags())
	cobra.CheckErr(err)
}
