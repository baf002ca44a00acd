package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tourbook/internal/client"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const usage = `usage: tourctl <command> [flags]

commands:
  tours          list active tours
  availability   check one tour date
  range          per-day availability for a window
  reserve        book spots on a tour date
  settle         settle a merchant period
  settlements    list settlements
  export         download a settlement statement (xlsx)
  dead-letters   list event deliveries that ran out of retries

environment:
  TOURBOOK_URL        API base url (default http://localhost:8080)
  TOURBOOK_API_KEY    API key
  TOURBOOK_API_EXTRA  API key secret
  TOURBOOK_REDIS      redis address for the read cache (optional)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, newClient(), os.Args[1], os.Args[2:]); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.RemainingSpots != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (remaining spots: %d)\n", err, *apiErr.RemainingSpots)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newClient() *client.Client {
	baseURL := os.Getenv("TOURBOOK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL, os.Getenv("TOURBOOK_API_KEY"), os.Getenv("TOURBOOK_API_EXTRA"))
	if addr := os.Getenv("TOURBOOK_REDIS"); addr != "" {
		c.UseRedisCache(redis.NewClient(&redis.Options{Addr: addr}), 30*time.Second)
	}
	return c
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "tours":
		if err := fs.Parse(args); err != nil {
			return err
		}
		tours, err := c.ListTours(ctx)
		if err != nil {
			return err
		}
		return printJSON(tours)

	case "availability":
		tourID := fs.Int64("tour", 0, "tour id")
		date := fs.String("date", "", "tour date (YYYY-MM-DD)")
		guests := fs.Int("guests", 1, "number of guests")
		if err := fs.Parse(args); err != nil {
			return err
		}
		a, err := c.Availability(ctx, *tourID, *date, *guests)
		if err != nil {
			return err
		}
		return printJSON(a)

	case "range":
		tourID := fs.Int64("tour", 0, "tour id")
		start := fs.String("start", "", "first date (default today)")
		end := fs.String("end", "", "last date")
		days := fs.Int("days", 0, "window length when no end is given")
		if err := fs.Parse(args); err != nil {
			return err
		}
		r, err := c.Range(ctx, *tourID, *start, *end, *days)
		if err != nil {
			return err
		}
		return printJSON(r)

	case "reserve":
		tourID := fs.Int64("tour", 0, "tour id")
		date := fs.String("date", "", "tour date (YYYY-MM-DD)")
		guests := fs.Int("guests", 1, "number of guests")
		ref := fs.String("customer", "", "customer reference")
		key := fs.String("idempotency-key", "", "idempotency key (default random)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *key == "" {
			*key = uuid.NewString()
		}
		b, err := c.Reserve(ctx, client.ReserveRequest{TourID: *tourID, Date: *date, Guests: *guests, CustomerRef: *ref}, *key)
		if err != nil {
			return err
		}
		return printJSON(b)

	case "settle":
		merchantID := fs.Int64("merchant", 0, "merchant id")
		start := fs.String("start", "", "period start (YYYY-MM-DD)")
		end := fs.String("end", "", "period end (YYYY-MM-DD)")
		key := fs.String("idempotency-key", "", "idempotency key (default random)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *key == "" {
			*key = uuid.NewString()
		}
		st, err := c.Settle(ctx, client.SettleRequest{MerchantID: *merchantID, PeriodStart: *start, PeriodEnd: *end}, *key)
		if err != nil {
			return err
		}
		return printJSON(st)

	case "settlements":
		merchantID := fs.Int64("merchant", 0, "merchant id")
		status := fs.String("status", "", "pending or paid_out")
		if err := fs.Parse(args); err != nil {
			return err
		}
		list, err := c.ListSettlements(ctx, *merchantID, *status)
		if err != nil {
			return err
		}
		return printJSON(list)

	case "export":
		id := fs.Int64("id", 0, "settlement id")
		out := fs.String("out", "", "output file (default settlement_<id>.xlsx)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *out == "" {
			*out = fmt.Sprintf("settlement_%d.xlsx", *id)
		}
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		if err := c.ExportSettlement(ctx, *id, f); err != nil {
			_ = f.Close()
			_ = os.Remove(*out)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Println(*out)
		return nil

	case "dead-letters":
		eventType := fs.String("event", "", "only this event type, e.g. booking.paid")
		if err := fs.Parse(args); err != nil {
			return err
		}
		failed, err := c.FailedDeliveries(ctx, *eventType)
		if err != nil {
			return err
		}
		return printJSON(failed)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
