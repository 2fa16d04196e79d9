package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the listings dashboard and JSON API",
	Long: `Serve the password-protected dashboard (GET /) and JSON API
(/api/listings, /api/listings/{id}, /api/runs, /api/urls). /healthz needs no
password.

The password is stored as a bcrypt hash in web.password_hash or
MCF_WEB_PASSWORD_HASH. Generate one with --hash-password, which reads the
password from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hashOnly, _ := cmd.Flags().GetBool("hash-password")
		addr, _ := cmd.Flags().GetString("addr")
		if hashOnly {
			return printPasswordHash()
		}

		webCfg := cfg.Web
		if addr != "" {
			webCfg.Addr = addr
		}
		if err := webCfg.Validate(); err != nil {
			return fmt.Errorf("web: %w", err)
		}

		ctx := cmd.Context()
		return withStore(ctx, func(store storage.Store) error {
			srv, err := web.New(store, webCfg)
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Dashboard at http://%s (Ctrl+C to stop)\n", green("✓"), webCfg.Addr)
			return srv.ListenAndServe(ctx)
		})
	},
}

func printPasswordHash() error {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	hash, err := web.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	fmt.Fprintln(os.Stderr, "Set it as web.password_hash in mcf.yaml or MCF_WEB_PASSWORD_HASH.")
	return nil
}

func init() {
	serveCmd.Flags().Bool("hash-password", false, "Read a password from stdin and print its bcrypt hash")
	serveCmd.Flags().String("addr", "", "Listen address (default web.addr)")
	rootCmd.AddCommand(serveCmd)
}
