package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacktea/blobfront/pkg/frontend"
	"github.com/jacktea/blobfront/pkg/gc"
	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/server/httpapi"
	"github.com/jacktea/blobfront/pkg/server/middleware"
	"github.com/jacktea/blobfront/pkg/stream"
)

type serveOptions struct {
	Addr            string
	Name            string
	APIKey          string
	RateLimit       int
	RateWindow      time.Duration
	AccessLog       bool
	ResponseWorkers int
	ResponseQueue   int
	GCInterval      time.Duration
	GCRetention     time.Duration
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve blobs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := serveOptions{
				Addr:            viper.GetString("serve.addr"),
				Name:            viper.GetString("serve.name"),
				APIKey:          viper.GetString("serve.api_key"),
				RateLimit:       viper.GetInt("serve.rate_limit"),
				RateWindow:      viper.GetDuration("serve.rate_window"),
				AccessLog:       viper.GetBool("serve.access_log"),
				ResponseWorkers: viper.GetInt("serve.response_workers"),
				ResponseQueue:   viper.GetInt("serve.response_queue"),
				GCInterval:      viper.GetDuration("serve.gc_interval"),
				GCRetention:     viper.GetDuration("serve.gc_retention"),
			}
			ctx, stop := signalContext(application.ctx)
			defer stop()
			return runServe(ctx, application, opts)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("name", frontend.DefaultName, "operand answered by the frontend itself")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key or Bearer token)")
	cmd.Flags().Int("rate-limit", 0, "requests allowed per rate window (0 disables)")
	cmd.Flags().Duration("rate-window", time.Second, "rate limit window")
	cmd.Flags().Bool("access-log", false, "log every request")
	cmd.Flags().Int("response-workers", 4, "goroutines transmitting responses")
	cmd.Flags().Int("response-queue", 128, "responses allowed to wait for transmission")
	cmd.Flags().Duration("gc-interval", 10*time.Minute, "garbage collection interval (0 disables)")
	cmd.Flags().Duration("gc-retention", 24*time.Hour, "how long deleted and expired records are kept")
	for _, name := range []string{
		"addr", "name", "api-key", "rate-limit", "rate-window", "access-log",
		"response-workers", "response-queue", "gc-interval", "gc-retention",
	} {
		bindConfig("serve."+strings.ReplaceAll(name, "-", "_"), cmd.Flags().Lookup(name))
	}
	return cmd
}

func runServe(ctx context.Context, a *app, opt serveOptions) error {
	handler := rest.NewAsyncResponseHandler(rest.HandlerConfig{
		Workers:   opt.ResponseWorkers,
		QueueSize: opt.ResponseQueue,
		Logger:    a.log,
	})
	svc, err := frontend.New(frontend.Config{
		Name:            opt.Name,
		Router:          a.router,
		ResponseHandler: handler,
		Logger:          a.log,
	})
	if err != nil {
		return err
	}
	svc.Start()
	defer svc.Shutdown()

	if opt.GCInterval > 0 {
		sweeper := newSweeper(a, opt.GCRetention)
		cancel := sweeper.Start(ctx, opt.GCInterval)
		defer cancel()
	}

	httpOpts := httpapi.Options{APIKey: opt.APIKey, AccessLog: opt.AccessLog}
	if opt.RateLimit > 0 {
		httpOpts.RateLimit = middleware.RateLimitOptions{Requests: opt.RateLimit, Window: opt.RateWindow}
	}
	server := &httpapi.Server{Service: svc, Log: a.log, Opts: httpOpts}
	a.log.WithField("addr", opt.Addr).Info("serving blobs over HTTP")
	return server.Start(ctx, opt.Addr)
}

func newSweeper(a *app, retention time.Duration) *gc.Sweeper {
	return gc.NewSweeper(gc.Options{
		Store:     a.meta,
		Shards:    a.shards,
		Cache:     a.cache,
		Retention: retention,
		Logger:    a.log,
	})
}

type putOptions struct {
	ServiceID   string
	ContentType string
	OwnerID     string
	TTL         time.Duration
	Private     bool
	Metadata    []string
}

func newPutCmd() *cobra.Command {
	var opts putOptions
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file as a new blob and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := doPut(application.ctx, application.router, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ServiceID, "service-id", "blobfront-cli", "service the blob is stored for")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "application/octet-stream", "blob content type")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "blob owner id")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "time to live (0 keeps the blob forever)")
	cmd.Flags().BoolVar(&opts.Private, "private", false, "mark the blob private")
	cmd.Flags().StringArrayVar(&opts.Metadata, "meta", nil, "user metadata as key=value (repeatable)")
	return cmd
}

func doPut(ctx context.Context, r router.Router, path string, opt putOptions) (meta.BlobID, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return "", err
	}
	props := meta.BlobProperties{
		Size:        fi.Size(),
		TTLSeconds:  meta.InfiniteTTL,
		Private:     opt.Private,
		ServiceID:   opt.ServiceID,
		ContentType: opt.ContentType,
		OwnerID:     opt.OwnerID,
	}
	if opt.TTL > 0 {
		props.TTLSeconds = int64(opt.TTL / time.Second)
	}
	var md meta.UserMetadata
	for _, kv := range opt.Metadata {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			f.Close()
			return "", fmt.Errorf("invalid metadata %q, want key=value", kv)
		}
		md.Set(rest.UserMetadataPrefix+strings.ToLower(key), value)
	}
	content := stream.FromReader(f, fi.Size())
	defer content.Close()
	future, err := r.PutBlob(ctx, props, md, content, nil)
	if err != nil {
		return "", err
	}
	return future.Wait(ctx)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <blob-id>",
		Short: "Write blob content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doGet(application.ctx, application.router, meta.BlobID(args[0]), cmd.OutOrStdout())
		},
	}
}

func doGet(ctx context.Context, r router.Router, id meta.BlobID, w io.Writer) error {
	future, err := r.GetBlob(ctx, id, router.GetOptions{}, nil)
	if err != nil {
		return err
	}
	content, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	defer content.Close()
	_, err = content.ReadInto(ctx, stream.NewWriterStream(w), nil).Wait(ctx)
	return err
}

func newHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head <blob-id>",
		Short: "Print blob properties and user metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doHead(application.ctx, application.router, meta.BlobID(args[0]), cmd.OutOrStdout())
		},
	}
}

func doHead(ctx context.Context, r router.Router, id meta.BlobID, w io.Writer) error {
	future, err := r.GetBlobInfo(ctx, id, nil)
	if err != nil {
		return err
	}
	info, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.New("router returned no blob info")
	}
	p := info.Properties
	fmt.Fprintf(w, "size\t%d\n", p.Size)
	fmt.Fprintf(w, "service-id\t%s\n", p.ServiceID)
	fmt.Fprintf(w, "content-type\t%s\n", p.ContentType)
	if p.OwnerID != "" {
		fmt.Fprintf(w, "owner-id\t%s\n", p.OwnerID)
	}
	fmt.Fprintf(w, "private\t%t\n", p.Private)
	fmt.Fprintf(w, "ttl\t%d\n", p.TTLSeconds)
	fmt.Fprintf(w, "created\t%s\n", p.CreationTime.UTC().Format(time.RFC3339))
	for _, entry := range info.UserMetadata {
		fmt.Fprintf(w, "%s\t%s\n", entry.Key, entry.Value)
	}
	return nil
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <blob-id>",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doDelete(application.ctx, application.router, meta.BlobID(args[0]), cmd.OutOrStdout())
		},
	}
}

func doDelete(ctx context.Context, r router.Router, id meta.BlobID, w io.Writer) error {
	future, err := r.DeleteBlob(ctx, id, nil)
	if err != nil {
		return err
	}
	ack, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	if ack != nil && ack.AlreadyDeleted {
		fmt.Fprintf(w, "%s already deleted\n", id)
		return nil
	}
	fmt.Fprintf(w, "%s deleted\n", id)
	return nil
}

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run garbage collection once",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newSweeper(application, viper.GetDuration("gc.retention")).Sweep(application.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gc purged %d expired and %d deleted records, removed %d shards\n",
				report.Expired, report.Tombstones, report.Shards)
			return nil
		},
	}
	cmd.Flags().Duration("retention", 24*time.Hour, "how long deleted and expired records are kept")
	bindConfig("gc.retention", cmd.Flags().Lookup("retention"))
	return cmd
}
