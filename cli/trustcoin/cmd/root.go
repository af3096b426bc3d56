/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/everFinance/trustcoin/config"
	"github.com/spf13/cobra"
)

var cfgFile string
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "trustcoin",
	Short:   "trustcoin",
	Long:    `trustcoin keeps a reputation-gated token whitelist in sync and serves XP claims`,
	Version: "v0.3.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "stop" {
			return nil
		}
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "cfg", "", "cfg file (default is $./trustcoin.yaml)")
}

// initConfig reads the cfg file and TRUSTCOIN_* environment variables.
func initConfig() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "can not load config:", err)
		return err
	}
	cfg = c
	return nil
}
