// Package cli wires the block builder's components together and exposes
// them as a cobra command tree, mirroring cmd/empower1d/cli.NewCLI.
package cli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/api"
	blockcfg "github.com/empower1/block-builder/internal/config"
	"github.com/empower1/block-builder/internal/metrics"
	"github.com/empower1/block-builder/internal/nonce"
	"github.com/empower1/block-builder/internal/poster"
	"github.com/empower1/block-builder/internal/prover"
	"github.com/empower1/block-builder/internal/rollup"
	"github.com/empower1/block-builder/internal/storage"
	"github.com/empower1/block-builder/internal/storage/walsnapshot"
	"github.com/empower1/block-builder/internal/storevault"
)

const snapshotInterval = 30 * time.Second
const snapshotKey = "queues"

// flags collects the values the serve command reads off the command line.
// Populating blockcfg.Config from the environment is the caller's job per
// that package's doc comment; these flags are this binary's own choice of
// configuration surface, not a substitute for that.
type flags struct {
	listenAddr    string
	proverURL     string
	rollupURL     string
	storeVaultURL string
	redisURL      string
	clusterID     string
	snapshotPath  string

	builderPrivateKeyHex string
	builderURL           string

	useFee         bool
	feeBeneficiary string

	acceptingTxWindow time.Duration
	proposingWindow   time.Duration
	txTimeout         time.Duration
	heartBeatInterval time.Duration
	depositInterval   time.Duration
	nonceWaitingTime  time.Duration
	ethAllowance      uint64
}

// NewCLI builds the block-builder root command and its subcommands.
func NewCLI() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "block-builder",
		Short: "Block builder aggregates sender requests into signed, posted rollup blocks.",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the block builder's intake API and background posting loops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(f)
		},
	}
	addServeFlags(serveCmd, f)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Probe a running block builder's /block-builder/status endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(f)
		},
	}
	statusCmd.Flags().StringVar(&f.builderURL, "builder-url", "http://localhost:8080", "base URL of the running block builder")

	root.AddCommand(serveCmd, statusCmd)
	return root
}

func addServeFlags(cmd *cobra.Command, f *flags) {
	fl := cmd.Flags()
	fl.StringVar(&f.listenAddr, "listen", ":8080", "address the intake API listens on")
	fl.StringVar(&f.proverURL, "prover-url", "", "validity prover base URL")
	fl.StringVar(&f.rollupURL, "rollup-url", "", "rollup contract gateway base URL")
	fl.StringVar(&f.storeVaultURL, "store-vault-url", "", "store-vault service base URL; must be set with --use-fee, but is not contacted: fee proofs are checked by the in-process mock store-vault client")
	fl.StringVar(&f.redisURL, "redis-url", "", "redis URL for shared storage and nonce state; empty uses in-process memory")
	fl.StringVar(&f.clusterID, "cluster-id", "default", "namespace for this builder's keys when --redis-url is set")
	fl.StringVar(&f.snapshotPath, "snapshot-path", "", "boltdb path for warm-start snapshots; empty disables snapshotting")
	fl.StringVar(&f.builderPrivateKeyHex, "builder-private-key", "", "hex-encoded secp256k1 private key this builder signs calls with")
	fl.StringVar(&f.builderURL, "builder-url", "", "this builder's externally reachable URL, announced in heartbeats")
	fl.BoolVar(&f.useFee, "use-fee", false, "require and validate a fee proof on every request")
	fl.StringVar(&f.feeBeneficiary, "fee-beneficiary", "", "hex-encoded pubkey fee proofs must pay")
	fl.DurationVar(&f.acceptingTxWindow, "accepting-tx-window", 2*time.Second, "how long a request queue accepts before assembling")
	fl.DurationVar(&f.proposingWindow, "proposing-window", 2*time.Second, "how long a proposal accepts signatures before posting")
	fl.DurationVar(&f.txTimeout, "tx-timeout", 40*time.Second, "additional slack added to proposing-window for expiry")
	fl.DurationVar(&f.heartBeatInterval, "heartbeat-interval", 30*time.Second, "interval between liveness heartbeats")
	fl.DurationVar(&f.depositInterval, "deposit-check-interval", 2*time.Second, "interval between deposit-watchdog polls")
	fl.DurationVar(&f.nonceWaitingTime, "nonce-waiting-time", 2*time.Second, "polling interval while waiting for this builder's turn to post by nonce order")
	fl.Uint64Var(&f.ethAllowance, "eth-allowance-for-block", 0, "wei penalty ceiling the poster waits under before posting")
}

func runServe(f *flags) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("cli: build logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	cfg, err := buildConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	signer := rollup.NewSigner(cfg.privateKey)
	rollupContract := rollup.NewHTTPContract(f.rollupURL, signer)
	proverClient := prover.NewHTTPClient(f.proverURL)
	registry := rollup.NewHTTPRegistry(f.rollupURL, signer)

	var rdb *redis.Client
	if f.redisURL != "" {
		opts, err := redis.ParseURL(f.redisURL)
		if err != nil {
			return fmt.Errorf("cli: parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	storageCfg := storage.Config{
		UseFee:                 f.useFee,
		FeeBeneficiary:         cfg.FeeBeneficiary,
		Accounts:               proverClient,
		AcceptingTxInterval:    f.acceptingTxWindow,
		ProposingBlockInterval: f.proposingWindow,
		TxTimeout:              f.txTimeout,
	}
	if f.useFee {
		if f.storeVaultURL == "" {
			return fmt.Errorf("cli: --store-vault-url is required with --use-fee")
		}
		storageCfg.FeeValidator = &storevault.FeeValidator{
			Client:      storevault.NewMockClient(),
			Beneficiary: cfg.FeeBeneficiary,
		}
	}

	var store storage.Storage
	var nonceManager nonce.Manager
	var snapshotter *walsnapshot.Snapshotter
	stopSnapshotting := make(chan struct{})
	if rdb != nil {
		store = storage.NewRedisStorage(rdb, f.clusterID, storageCfg, sugar)
		nonceManager = nonce.NewRedisManager(rdb, f.clusterID, rollupContract, sugar)
	} else {
		memStore := storage.NewMemoryStorage(storageCfg, sugar)
		if f.snapshotPath != "" {
			var err error
			snapshotter, err = walsnapshot.Open(f.snapshotPath, sugar)
			if err != nil {
				return err
			}
			var snap storage.Snapshot
			found, err := snapshotter.Load(snapshotKey, &snap)
			if err != nil {
				return fmt.Errorf("cli: load snapshot: %w", err)
			}
			if found {
				memStore.Restore(snap)
				sugar.Infow("restored queues from snapshot", "path", f.snapshotPath)
			}
			go snapshotter.Run(snapshotInterval, stopSnapshotting, func() error {
				return snapshotter.Save(snapshotKey, memStore.Snapshot())
			})
		}
		store = memStore
		nonceManager = nonce.NewInMemoryManager(rollupContract, sugar)
	}
	if snapshotter != nil {
		defer func() {
			close(stopSnapshotting)
			snapshotter.Close()
		}()
	}

	posterCfg := poster.Config{EthAllowanceForBlock: f.ethAllowance, NonceWaitInterval: f.nonceWaitingTime}
	p := poster.New(posterCfg, rollupContract, proverClient, nonceManager, sugar)

	jobsCfg := poster.JobsConfig{
		HeartBeatInterval:    f.heartBeatInterval,
		DepositCheckInterval: f.depositInterval,
		BuilderURL:           f.builderURL,
	}
	runner := poster.NewRunner(p, store, proverClient, registry, jobsCfg, sugar)
	runner.Run()
	defer runner.Stop()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	mux := http.NewServeMux()
	api.NewServer(store, sugar).Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: f.listenAddr, Handler: mux}
	go func() {
		sugar.Infow("serving", "addr", f.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	sugar.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func runStatus(f *flags) error {
	resp, err := http.Get(f.builderURL + "/block-builder/status")
	if err != nil {
		return fmt.Errorf("cli: status probe: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("cli: decode status response: %w", err)
	}
	fmt.Printf("status: %s (http %d)\n", body["status"], resp.StatusCode)
	return nil
}

// resolvedConfig bundles blockcfg.Config with the decoded key material the
// HTTP flag values need but the plain struct shouldn't carry as raw bytes.
type resolvedConfig struct {
	blockcfg.Config
	privateKey [32]byte
}

func buildConfig(f *flags) (resolvedConfig, error) {
	cfg := resolvedConfig{
		Config: blockcfg.Config{
			UseFee:                f.useFee,
			TxTimeout:             f.txTimeout,
			AcceptingTxWindow:     f.acceptingTxWindow,
			ProposingWindow:       f.proposingWindow,
			HeartBeatInterval:     f.heartBeatInterval,
			DepositCheckInterval:  f.depositInterval,
			NonceWaitingTime:      f.nonceWaitingTime,
			EthAllowanceForBlock:  f.ethAllowance,
			BuilderPrivateKeyHex:  f.builderPrivateKeyHex,
			BuilderURL:            f.builderURL,
			ClusterID:             f.clusterID,
			RedisURL:              f.redisURL,
		},
	}

	keyBytes, err := hex.DecodeString(f.builderPrivateKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return cfg, fmt.Errorf("cli: builder-private-key must be 32 hex-encoded bytes")
	}
	copy(cfg.privateKey[:], keyBytes)

	if f.feeBeneficiary != "" {
		beneficiaryBytes, err := hex.DecodeString(f.feeBeneficiary)
		if err != nil || len(beneficiaryBytes) != 32 {
			return cfg, fmt.Errorf("cli: fee-beneficiary must be 32 hex-encoded bytes")
		}
		copy(cfg.FeeBeneficiary[:], beneficiaryBytes)
	}

	return cfg, nil
}
