package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout(args)
	case "create":
		err = withApp(args, deploymentCreate)
	case "delete":
		err = withApp(args, deploymentDelete)
	case "update":
		err = withApp(args, deploymentUpdate)
	case "status":
		err = withApp(args, provisioningStatus)
	case "retry":
		err = withApp(args, provisioningRetry)
	case "grant":
		err = withApp(args, policyGrant)
	case "grants":
		err = withApp(args, policyList)
	case "group":
		err = commandGroup(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandGroup(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: agentctl group [create|delete|delete-many]")
	}
	sub := args[0]
	switch sub {
	case "create":
		return withApp(args[1:], groupCreate)
	case "delete":
		return withApp(args[1:], groupDelete)
	case "delete-many":
		return withApp(args[1:], groupDeleteMany)
	default:
		return fmt.Errorf("unknown group command: %s", sub)
	}
}

type command func(ctx context.Context, a *app, args []string) error

// withApp wires the orchestrator, runs cmd under a per-call context and
// releases everything afterwards.
func withApp(args []string, cmd command) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, err = a.callContext(ctx)
	if err != nil {
		return err
	}
	return cmd(ctx, a, args)
}

func printUsage() {
	fmt.Printf("agentctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	agentctl login [--token <jwt>]
	agentctl logout
	agentctl create --name <name> --target-id <id> [--target-type graph] [--description text]
	                [--cpu-min N] [--cpu-max N] [--mem-min MB] [--mem-max MB] [--replicas-min N] [--replicas-max N]
	                [--attachment file] [--member <id> --project <id>] [--session]
	agentctl delete --id <resource-id>
	agentctl update --id <resource-id> [--description text] [--cpu-max N] [--mem-max MB] ...
	agentctl status --id <resource-id>
	agentctl retry --id <resource-id>
	agentctl grant --id <resource-id> [--member <id>] [--project <id>] [--session]
	agentctl grants --id <resource-id>
	agentctl group create --name <name> [--project <id>] --member key=value [--member key=value ...]
	agentctl group delete --id <group-id>
	agentctl group delete-many <group-id> [<group-id> ...]
	agentctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
