package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadmachine/pkg/domain"
	"leadmachine/pkg/export"
	"leadmachine/services/leads/internal/flow"
	"leadmachine/services/leads/internal/leadclient"
)

const usage = `usage: leadctl [-addr URL] [-token TOKEN] <command> [flags]

commands:
  generate   run a generation and print or export the leads
  credits    show the current credit balance
  exports    list saved exports
  download   download a saved export
`

func main() {
	global := flag.NewFlagSet("leadctl", flag.ExitOnError)
	addr := global.String("addr", envOr("LEADMACHINE_ADDR", "http://localhost:8085"), "leads service base URL")
	token := global.String("token", os.Getenv("LEADMACHINE_TOKEN"), "user access token")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := leadclient.New(*addr, *token, 0)
	args := global.Args()
	var err error
	switch args[0] {
	case "generate":
		err = runGenerate(ctx, client, args[1:])
	case "credits":
		err = runCredits(ctx, client)
	case "exports":
		err = runExports(ctx, client)
	case "download":
		err = runDownload(ctx, client, args[1:])
	default:
		global.Usage()
		os.Exit(2)
	}
	if err != nil {
		exitErr(err)
	}
}

func runGenerate(ctx context.Context, client *leadclient.Client, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var req domain.GenerationRequest
	fs.StringVar(&req.CompanyURL, "url", "", "company website (required)")
	fs.StringVar(&req.Description, "description", "", "what the business does (required)")
	fs.StringVar(&req.TargetLocation, "location", "", "target location")
	fs.StringVar(&req.TargetIndustry, "industry", "", "target industry")
	fs.StringVar(&req.IdealClientDescription, "ideal-client", "", "ideal client description")
	fs.StringVar(&req.FacebookURL, "facebook", "", "Facebook page")
	fs.StringVar(&req.InstagramURL, "instagram", "", "Instagram profile")
	fs.StringVar(&req.LinkedInURL, "linkedin", "", "LinkedIn page")
	format := fs.String("format", "", "write leads as csv or json instead of a table")
	out := fs.String("out", "", "output file for -format, default stdout")
	unlock := fs.Bool("all", false, "include leads past the preview limit")
	_ = fs.Parse(args)

	var last *leadclient.GenerateResult
	f := flow.New(flow.GeneratorFunc(func(ctx context.Context, req domain.GenerationRequest) ([]domain.Lead, error) {
		res, err := client.GenerateLeads(ctx, req)
		if err != nil {
			return nil, err
		}
		last = &res
		return res.Leads, nil
	}), flow.Options{OnEvent: func(ev flow.Event) {
		if ev.Kind == flow.EventCaption {
			fmt.Fprintln(os.Stderr, ev.Message)
		}
	}})
	if err := f.SetForm(req); err != nil {
		return err
	}
	start := time.Now()
	if err := f.Submit(ctx); err != nil {
		return err
	}
	if *unlock {
		if err := f.Unlock(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d leads in %s (outcome %s, charged %v)\n", len(f.Leads()), time.Since(start).Round(time.Second), last.Outcome, last.Charged)
	if last.Reason != "" {
		fmt.Fprintln(os.Stderr, last.Reason)
	}

	if *format != "" {
		parsed, err := export.ParseFormat(*format)
		if err != nil {
			return err
		}
		w, closeFn, err := openOutput(*out)
		if err != nil {
			return err
		}
		defer closeFn()
		return f.Export(w, parsed, export.Options{IncludeScore: true})
	}
	for i, l := range f.Visible() {
		score := "-"
		if l.Score != nil {
			score = fmt.Sprint(*l.Score)
		}
		fmt.Printf("%2d. %s  [%s]  score %s\n    %s, %s  %s  %s\n", i+1, l.CompanyName, l.Industry, score, l.ContactPerson, l.Role, l.Email, l.Website)
	}
	if n := f.Masked(); n > 0 {
		fmt.Printf("... %d more leads, rerun with -all to show them\n", n)
	}
	return nil
}

func runCredits(ctx context.Context, client *leadclient.Client) error {
	b, err := client.Credits(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("plan %s, %d credits left, %d used\n", b.Plan, b.Balance, b.TotalUsed)
	return nil
}

func runExports(ctx context.Context, client *leadclient.Client) error {
	items, err := client.ListExports(ctx)
	if err != nil {
		return err
	}
	for _, e := range items {
		fmt.Printf("%s  %s  %3d leads  %s\n", e.ID, e.CreatedAt.Local().Format(time.DateTime), e.LeadCount, e.Name)
	}
	return nil
}

func runDownload(ctx context.Context, client *leadclient.Client, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	format := fs.String("format", "csv", "csv or json")
	out := fs.String("out", "", "output file, default stdout")
	score := fs.Bool("score", false, "include the score column")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: leadctl download [-format csv|json] [-out file] <export-id>")
	}
	parsed, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	w, closeFn, err := openOutput(*out)
	if err != nil {
		return err
	}
	defer closeFn()
	return client.DownloadExport(ctx, fs.Arg(0), parsed, *score, w)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "leadctl: %v\n", err)
	os.Exit(1)
}
