package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"alerttrader/internal/api"
	"alerttrader/pkg/alerttrader"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: alerttrader-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI and server versions\n")
		fmt.Fprintf(os.Stderr, "  service    Register a broker credential\n")
		fmt.Fprintf(os.Stderr, "  process    Submit a trading intent\n")
		fmt.Fprintf(os.Stderr, "  session    Log a session-based service in\n")
		fmt.Fprintf(os.Stderr, "  account    Show a service's brokerage account\n")
		fmt.Fprintf(os.Stderr, "  attempts   List recent order attempts\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  ALERTTRADER_URL   server base URL (default http://localhost:8080)\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8080"
	if u := os.Getenv("ALERTTRADER_URL"); u != "" {
		baseURL = u
	}
	client := alerttrader.NewClient(baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("alerttrader-cli %s\n", version)
		var v alerttrader.VersionResponse
		if v, err = client.Version(ctx); err == nil {
			fmt.Printf("server %s (brokers: %v)\n", v.Version, v.Brokers)
		}

	case "service":
		err = runService(ctx, client, os.Args[2:])

	case "process":
		err = runProcess(ctx, client, os.Args[2:])

	case "session":
		fs := flag.NewFlagSet("session", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		service := fs.String("service", "", "service id")
		fs.Parse(os.Args[2:])
		var sess any
		if sess, err = client.CreateSession(ctx, *user, *service); err == nil {
			printJSON(sess)
		}

	case "account":
		fs := flag.NewFlagSet("account", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		service := fs.String("service", "", "service id")
		fs.Parse(os.Args[2:])
		var acct map[string]any
		if acct, err = client.Account(ctx, *user, *service); err == nil {
			printJSON(acct)
		}

	case "attempts":
		fs := flag.NewFlagSet("attempts", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		limit := fs.Int("limit", 20, "maximum attempts to list")
		day := fs.String("day", "", "read the archive of this UTC day (YYYY-MM-DD)")
		fs.Parse(os.Args[2:])
		var resp alerttrader.AttemptsResponse
		if *day != "" {
			var t time.Time
			if t, err = time.Parse("2006-01-02", *day); err == nil {
				resp, err = client.ArchivedAttempts(ctx, *user, t, *limit)
			}
		} else {
			resp, err = client.Attempts(ctx, *user, *limit)
		}
		if err == nil {
			printJSON(resp)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runService(ctx context.Context, client *alerttrader.Client, args []string) error {
	fs := flag.NewFlagSet("service", flag.ExitOnError)
	var req alerttrader.ServiceRequest
	fs.StringVar(&req.ID, "id", "", "service id (generated when empty)")
	fs.StringVar(&req.UserID, "user", "", "user id")
	fs.StringVar(&req.BrokerType, "broker", "", "drivewealth, bitfinex, itbit, alpaca, or paper")
	fs.StringVar(&req.APIKey, "key", os.Getenv("ALERTTRADER_API_KEY"), "API key")
	fs.StringVar(&req.APISecret, "secret", os.Getenv("ALERTTRADER_API_SECRET"), "API secret")
	fs.StringVar(&req.Username, "username", "", "login username")
	fs.StringVar(&req.Password, "password", os.Getenv("ALERTTRADER_PASSWORD"), "login password")
	fs.StringVar(&req.BrokerUserID, "broker-user", "", "venue user id (itbit)")
	fs.StringVar(&req.WalletID, "wallet", "", "wallet id (itbit)")
	fs.Float64Var(&req.AllocationPercent, "percent", 0, "allocation percent override")
	fs.Parse(args)

	cred, err := client.CreateService(ctx, req)
	if err != nil {
		return err
	}
	printJSON(cred)
	return nil
}

func runProcess(ctx context.Context, client *alerttrader.Client, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	var req alerttrader.IntentRequest
	fs.StringVar(&req.UserID, "user", "", "user id")
	fs.StringVar(&req.ServiceID, "service", "", "service id (omit to fan out to -market)")
	fs.StringVar(&req.Market, "market", "", "equities or cryptocurrency")
	fs.StringVar(&req.Action, "action", "", "buy, sell, enterlong, or exitlong")
	fs.StringVar(&req.Base, "base", "", "base symbol, e.g. btc or AAPL")
	fs.StringVar(&req.Quote, "quote", "", "quote currency, e.g. usd")
	fs.Float64Var(&req.AllocationPercent, "percent", 0, "allocation percent")
	grpcAddr := fs.String("grpc", "", "send over gRPC to this address instead of HTTP")
	fs.Parse(args)

	var (
		resp alerttrader.IntentResponse
		err  error
	)
	if *grpcAddr != "" {
		conn, cerr := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if cerr != nil {
			return cerr
		}
		defer conn.Close()
		resp, err = api.NewIntentsClient(conn).Process(ctx, req)
	} else {
		resp, err = client.Process(ctx, req)
	}
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
