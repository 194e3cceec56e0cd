// Command vaultkeeper is a thin CLI wrapper around the vaultkeeper
// library: it loads a config file, wires a backend registry, and
// dispatches one of a small set of subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/mike-north/vaultkeeper-sub000"
	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/backend/encryptedfile"
	"github.com/mike-north/vaultkeeper-sub000/backend/memory"
	"github.com/mike-north/vaultkeeper-sub000/backend/mongobackend"
	"github.com/mike-north/vaultkeeper-sub000/backend/postgres"
	"github.com/mike-north/vaultkeeper-sub000/backend/redisbackend"
	"github.com/mike-north/vaultkeeper-sub000/internal/delegated"
)

const usageLine = "usage: vaultkeeper <init|setup|get|fetch|exec|sign|rotate-key|revoke-key|dev-mode> [flags]"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usageLine)
		return 1
	}

	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "vaultkeeper.json", "path to config file")
	name := fs.String("name", "", "secret name")
	exePath := fs.String("exe", "dev", "caller executable path (or \"dev\")")
	useLimit := fs.Int("use-limit", 0, "usage budget (0 = unlimited)")
	token := fs.String("token", "", "capability token")
	execCommand := fs.String("command", "", "command for exec")
	fetchURL := fs.String("url", "", "URL for fetch")
	fetchMethod := fs.String("method", "GET", "HTTP method for fetch")
	signData := fs.String("data", "", "data to sign")
	save := fs.Bool("save", false, "persist dev-mode change back to the config file")
	disable := fs.Bool("disable", false, "disable development mode for -exe instead of enabling it")
	if err := fs.Parse(rest); err != nil {
		return 1
	}

	cfg, err := vaultkeeper.LoadConfig(*configPath)
	if err != nil {
		logx.Errorf("vaultkeeper: %v", err)
		return 1
	}

	v := vaultkeeper.New(cfg, buildRegistry(), vaultkeeper.Options{
		TrustManifestPath: "trust-manifest.json",
	})

	ctx := context.Background()
	if err := v.Init(ctx); err != nil {
		logx.Errorf("vaultkeeper: init: %v", err)
		return 1
	}

	switch cmd {
	case "init":
		fmt.Println("vault initialized, backend:", v.ActiveBackendType())
		return 0

	case "setup":
		t, err := v.Setup(ctx, *name, vaultkeeper.SetupOptions{ExecutablePath: *exePath, UseLimit: *useLimit})
		if err != nil {
			logx.Errorf("vaultkeeper: setup: %v", err)
			return 1
		}
		fmt.Println(t)
		return 0

	case "get":
		res, err := v.Authorize(*token)
		if err != nil {
			logx.Errorf("vaultkeeper: authorize: %v", err)
			return 1
		}
		accessor, err := v.GetSecret(res.Token)
		if err != nil {
			logx.Errorf("vaultkeeper: getSecret: %v", err)
			return 1
		}
		readErr := accessor.Read(func(buf []byte) { fmt.Println(string(buf)) })
		if readErr != nil {
			logx.Errorf("vaultkeeper: read: %v", readErr)
			return 1
		}
		return 0

	case "exec":
		res, err := v.Authorize(*token)
		if err != nil {
			logx.Errorf("vaultkeeper: authorize: %v", err)
			return 1
		}
		result, err := v.Exec(ctx, res.Token, delegated.ExecRequest{Command: *execCommand, Args: fs.Args()})
		if err != nil {
			logx.Errorf("vaultkeeper: exec: %v", err)
			return 1
		}
		fmt.Print(result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		return result.ExitCode

	case "fetch":
		res, err := v.Authorize(*token)
		if err != nil {
			logx.Errorf("vaultkeeper: authorize: %v", err)
			return 1
		}
		resp, err := v.Fetch(ctx, res.Token, delegated.FetchRequest{Method: *fetchMethod, URL: *fetchURL})
		if err != nil {
			logx.Errorf("vaultkeeper: fetch: %v", err)
			return 1
		}
		fmt.Printf("status=%d\n%s\n", resp.StatusCode, resp.Body)
		return 0

	case "sign":
		res, err := v.Authorize(*token)
		if err != nil {
			logx.Errorf("vaultkeeper: authorize: %v", err)
			return 1
		}
		signed, err := v.Sign(res.Token, delegated.SignRequest{Data: []byte(*signData)})
		if err != nil {
			logx.Errorf("vaultkeeper: sign: %v", err)
			return 1
		}
		fmt.Println(signed.Signature)
		return 0

	case "rotate-key":
		if err := v.RotateKey(); err != nil {
			logx.Errorf("vaultkeeper: rotate-key: %v", err)
			return 1
		}
		return 0

	case "revoke-key":
		if err := v.RevokeKey(); err != nil {
			logx.Errorf("vaultkeeper: revoke-key: %v", err)
			return 1
		}
		return 0

	case "dev-mode":
		enabled := !*disable
		v.SetDevelopmentMode(*exePath, enabled)
		if *save {
			if err := saveConfig(*configPath, cfg); err != nil {
				logx.Errorf("vaultkeeper: saving config: %v", err)
				return 1
			}
		}
		if enabled {
			fmt.Println("development mode enabled for", *exePath)
		} else {
			fmt.Println("development mode disabled for", *exePath)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 1
	}
}

func saveConfig(path string, cfg *vaultkeeper.Config) error {
	raw, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return fmt.Errorf("vaultkeeper: marshaling config: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

func buildRegistry() *backend.Registry {
	r := backend.NewRegistry()
	r.Register("memory", memory.Factory)
	r.Register("encryptedfile", encryptedfile.Factory)
	r.Register("redis", redisbackend.Factory)
	r.Register("postgres", postgres.Factory)
	r.Register("mongo", mongobackend.Factory)
	return r
}
