package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/blobfront/pkg/blob"
	"github.com/jacktea/blobfront/pkg/cache"
	"github.com/jacktea/blobfront/pkg/encryption"
	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/router"
)

type app struct {
	ctx     context.Context
	log     *logrus.Logger
	meta    meta.Store
	shards  *blob.Shards
	cache   cache.RecordCache
	router  *router.BlobRouter
	cleanup []func()
}

func (a *app) ensureBackend() error {
	if a.router != nil {
		return nil
	}
	a.ctx = context.Background()
	a.log = logrus.New()
	a.log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.log.SetLevel(level)

	shards, err := buildShards()
	if err != nil {
		return err
	}
	a.shards = shards

	metaStore, err := buildMetaStore(viper.GetString("meta"))
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	a.meta = metaStore
	if closer, ok := metaStore.(interface{ Close() error }); ok {
		a.cleanup = append(a.cleanup, func() { _ = closer.Close() })
	}

	recordCache, err := buildRecordCache(a.ctx, viper.GetString("redis_addr"), viper.GetInt("cache_entries"), viper.GetDuration("cache_ttl"))
	if err != nil {
		return fmt.Errorf("record cache: %w", err)
	}
	a.cache = recordCache
	if closer, ok := recordCache.(interface{ Close() error }); ok {
		a.cleanup = append(a.cleanup, func() { _ = closer.Close() })
	}

	r, err := router.New(router.Config{
		Meta:        a.meta,
		Shards:      a.shards,
		Cache:       a.cache,
		Workers:     viper.GetInt("router_workers"),
		QueueSize:   viper.GetInt("router_queue"),
		MaxBlobSize: viper.GetInt64("max_blob_size"),
		Logger:      a.log,
	})
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}
	a.router = r
	// the router goes first so no worker touches a closed store
	a.cleanup = append([]func(){func() { _ = r.Close() }}, a.cleanup...)
	return nil
}

func (a *app) close() {
	for _, fn := range a.cleanup {
		fn()
	}
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "blobfront",
		Short:         "blob storage frontend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureBackend()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	err := rootCmd.Execute()
	application.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blobfront")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blobfront"))
		}
	}
	viper.SetEnvPrefix("BLOBFRONT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("root", ".blobfront/shards", "shard storage root (local provider)")
	flags.String("meta", ".blobfront/meta.db", "path to the BoltDB metadata file (empty keeps metadata in memory)")
	flags.Bool("encrypt", false, "enable shard encryption")
	flags.String("key", "", "hex or base64 encoded 32-byte key when encryption enabled")

	flags.String("storage-provider", "local", "storage provider: local|s3")
	flags.String("storage-endpoint", "", "remote storage endpoint")
	flags.String("storage-bucket", "", "remote storage bucket name")
	flags.String("storage-region", "", "remote storage region")
	flags.String("storage-access-key", "", "remote storage access key")
	flags.String("storage-secret-key", "", "remote storage secret key")
	flags.Bool("storage-secure", true, "use TLS when the endpoint has no scheme")

	flags.String("hybrid-provider", "", "secondary storage provider for hybrid tier")
	flags.String("hybrid-endpoint", "", "secondary storage endpoint")
	flags.String("hybrid-bucket", "", "secondary storage bucket")
	flags.String("hybrid-region", "", "secondary storage region")
	flags.String("hybrid-access-key", "", "secondary storage access key")
	flags.String("hybrid-secret-key", "", "secondary storage secret key")
	flags.Bool("hybrid-mirror", true, "mirror writes to the secondary store")
	flags.Bool("hybrid-cache-read", true, "cache secondary reads into the primary store")

	flags.Int("cache-entries", 4096, "blob records cached in memory (0 disables)")
	flags.Duration("cache-ttl", time.Minute, "time to keep cached blob records")
	flags.String("redis-addr", "", "cache blob records in redis instead of memory")

	flags.Int("router-workers", 8, "router worker goroutines")
	flags.Int("router-queue", 256, "router operations allowed to wait for a worker")
	flags.Int64("max-blob-size", 0, "largest accepted blob in bytes (0 is unlimited)")

	for _, name := range []string{
		"log-level", "root", "meta", "encrypt", "key",
		"storage-provider", "storage-endpoint", "storage-bucket", "storage-region",
		"storage-access-key", "storage-secret-key", "storage-secure",
		"hybrid-provider", "hybrid-endpoint", "hybrid-bucket", "hybrid-region",
		"hybrid-access-key", "hybrid-secret-key", "hybrid-mirror", "hybrid-cache-read",
		"cache-entries", "cache-ttl", "redis-addr",
		"router-workers", "router-queue", "max-blob-size",
	} {
		bindConfig(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

func initCommands() {
	rootCmd.AddCommand(
		newServeCmd(),
		newPutCmd(),
		newGetCmd(),
		newHeadCmd(),
		newDeleteCmd(),
		newGCCmd(),
	)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func buildShards() (*blob.Shards, error) {
	store, err := buildBlobStore(viper.GetString("storage_provider"), storageOptions{
		Root:      viper.GetString("root"),
		Endpoint:  viper.GetString("storage_endpoint"),
		Bucket:    viper.GetString("storage_bucket"),
		Region:    viper.GetString("storage_region"),
		AccessKey: viper.GetString("storage_access_key"),
		SecretKey: viper.GetString("storage_secret_key"),
		Secure:    viper.GetBool("storage_secure"),
	})
	if err != nil {
		return nil, fmt.Errorf("storage config: %w", err)
	}

	if prov := viper.GetString("hybrid_provider"); prov != "" {
		secondary, err := buildBlobStore(prov, storageOptions{
			Root:      filepath.Join(viper.GetString("root"), "secondary"),
			Endpoint:  viper.GetString("hybrid_endpoint"),
			Bucket:    viper.GetString("hybrid_bucket"),
			Region:    viper.GetString("hybrid_region"),
			AccessKey: viper.GetString("hybrid_access_key"),
			SecretKey: viper.GetString("hybrid_secret_key"),
			Secure:    viper.GetBool("storage_secure"),
		})
		if err != nil {
			return nil, fmt.Errorf("hybrid storage config: %w", err)
		}
		store, err = blob.NewHybridStore(store, secondary, blob.HybridOptions{
			MirrorSecondary: viper.GetBool("hybrid_mirror"),
			CacheOnRead:     viper.GetBool("hybrid_cache_read"),
		})
		if err != nil {
			return nil, err
		}
	}

	shards := &blob.Shards{Store: store}
	if viper.GetBool("encrypt") {
		opts, err := encryptionOptions(viper.GetString("key"))
		if err != nil {
			return nil, err
		}
		shards.Encryption = opts
	}
	return shards, nil
}

func encryptionOptions(key string) (encryption.Options, error) {
	if key == "" {
		return encryption.Options{}, errors.New("encryption enabled but key missing")
	}
	decoded, err := encryption.ParseKey(key)
	if err != nil {
		return encryption.Options{}, err
	}
	opts := encryption.Options{Method: encryption.MethodAES256CTR, Key: decoded}
	if err := opts.Validate(); err != nil {
		return encryption.Options{}, err
	}
	return opts, nil
}

type storageOptions struct {
	Root      string
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

func buildBlobStore(provider string, opts storageOptions) (blob.Store, error) {
	switch strings.ToLower(provider) {
	case "", "local":
		return blob.NewPathStore(opts.Root)
	case "s3":
		if opts.Endpoint == "" || opts.Bucket == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Region == "" {
			return nil, errors.New("s3 config requires endpoint, bucket, region, access key, and secret key")
		}
		return blob.NewS3Store(blob.S3Config{
			Endpoint:  opts.Endpoint,
			Bucket:    opts.Bucket,
			Region:    opts.Region,
			AccessKey: opts.AccessKey,
			SecretKey: opts.SecretKey,
			Secure:    opts.Secure,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}

func buildMetaStore(path string) (meta.Store, error) {
	if path == "" {
		return meta.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return meta.NewBoltStore(meta.BoltConfig{Path: path})
}

func buildRecordCache(ctx context.Context, redisAddr string, entries int, ttl time.Duration) (cache.RecordCache, error) {
	switch {
	case redisAddr != "":
		return cache.NewRedisRecordCache(ctx, redisAddr, ttl)
	case entries <= 0:
		return cache.NoOpCache{}, nil
	default:
		return cache.NewMemoryRecordCache(entries, ttl), nil
	}
}
