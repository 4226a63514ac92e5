package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/pkg/config"
	"github.com/splax/agentdeploy/pkg/jwt"
)

const tokenEnv = "AGENT_TOKEN"

type cliConfig struct {
	SessionToken string `json:"session_token"`
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Session token (supply to avoid prompt)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Session token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}
	if secret == "" {
		return errors.New("session token is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	issuer, err := jwt.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}
	claims, err := issuer.Verify(secret)
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}
	if err := saveConfig(cliConfig{SessionToken: secret}); err != nil {
		return err
	}
	fmt.Printf("logged in as %s", claims.UserID())
	if claims.ProjectID != "" {
		fmt.Printf(" (project %s)", claims.ProjectID)
	}
	fmt.Println()
	return nil
}

func commandLogout(args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fmt.Println("logged out")
	return nil
}

// loadSession returns the operator session from AGENT_TOKEN or the saved
// login. No token at all is not an error; owners then resolve without a
// session.
func loadSession(secret string) (*domain.Session, error) {
	token := strings.TrimSpace(os.Getenv(tokenEnv))
	if token == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		token = strings.TrimSpace(cfg.SessionToken)
	}
	if token == "" {
		return nil, nil
	}
	issuer, err := jwt.NewIssuer(secret)
	if err != nil {
		return nil, err
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("session token rejected, run 'agentctl login': %w", err)
	}
	return &domain.Session{UserID: claims.UserID(), ProjectID: claims.ProjectID}, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "agentctl", "config.json"), nil
}
