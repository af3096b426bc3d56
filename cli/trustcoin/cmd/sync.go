/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/everFinance/trustcoin"
	"github.com/spf13/cobra"
)

var syncTimeout time.Duration

// syncCmd runs one reconciliation in-process, without starting the api
var syncCmd = &cobra.Command{
	Use:   "sync [address...]",
	Short: "reconcile the whitelist once",
	Long:  `reconcile the given addresses, or the stored candidates when none are given, and print the result`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := trustcoin.New(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		res, err := s.SyncWhitelist(ctx, args)
		if res != nil {
			js, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(js))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 10*time.Minute, "give up after this long")
}
