package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"taskboard-api/api"
)

var tokenOpts struct {
	secret string
	count  int
	prefix string
	start  int
	ttl    time.Duration
	output string
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint HS256 tokens for auth test mode",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.secret, "secret", os.Getenv("TEST_JWT_SECRET"), "signing secret (defaults to TEST_JWT_SECRET)")
	f.IntVar(&tokenOpts.count, "count", 1, "number of tokens to generate")
	f.StringVar(&tokenOpts.prefix, "prefix", "load-user", "prefix for generated user IDs when count > 1")
	f.IntVar(&tokenOpts.start, "start", 1, "starting index for generated user IDs when count > 1")
	f.DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "token lifetime")
	f.StringVar(&tokenOpts.output, "output", "", "file to write generated tokens as a JSON array")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenOpts.count < 1 || tokenOpts.start < 1 {
		return fmt.Errorf("count and start must be at least 1")
	}
	if len(args) > 0 && tokenOpts.count > 1 {
		return fmt.Errorf("explicit user ID cannot be combined with --count")
	}

	tokens, err := generateTokens([]byte(tokenOpts.secret), tokenOpts.count, tokenOpts.prefix, tokenOpts.start, tokenOpts.ttl, args)
	if err != nil {
		return err
	}
	if tokenOpts.output != "" {
		if err := writeTokens(tokenOpts.output, tokens); err != nil {
			return fmt.Errorf("write tokens: %w", err)
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), tokens[0])
	return nil
}

func generateTokens(secret []byte, count int, prefix string, start int, ttl time.Duration, args []string) ([]string, error) {
	tokens := make([]string, count)
	for i := 0; i < count; i++ {
		var userID string
		switch {
		case len(args) > 0:
			userID = args[0]
		case count == 1:
			userID = prefix
		default:
			userID = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		tok, err := api.SignTestToken(secret, userID, ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
