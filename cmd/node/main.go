// Command node runs a dmachain validator or follower node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/dmachain/config"
	"github.com/tolelom/dmachain/consensus"
	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/crypto/certgen"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/indexer"
	"github.com/tolelom/dmachain/internal/logger"
	"github.com/tolelom/dmachain/rpc"
	"github.com/tolelom/dmachain/storage"
	"github.com/tolelom/dmachain/wallet"

	// Modules register their transaction handlers in init.
	_ "github.com/tolelom/dmachain/vm/modules/auction"
	_ "github.com/tolelom/dmachain/vm/modules/escrow"
	_ "github.com/tolelom/dmachain/vm/modules/lottery"
	_ "github.com/tolelom/dmachain/vm/modules/market"
	_ "github.com/tolelom/dmachain/vm/modules/nft"
	_ "github.com/tolelom/dmachain/vm/modules/presale"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "write a CA plus RPC server and client certs into this directory and exit")
	reindex := flag.Bool("reindex", false, "drop the secondary index and rebuild it from the event journal")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(logger.Config{
		Debug:      cfg.Log.Debug,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Fields:     map[string]string{"node": cfg.NodeID},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Passwords come from the environment; flags leak through ps.
	password := os.Getenv("DMA_PASSWORD")
	if password == "" {
		logger.Warn("DMA_PASSWORD not set, keystore uses an empty password")
	}

	switch {
	case *genKey:
		w, err := wallet.Generate()
		if err != nil {
			logger.Fatal("generate key", zap.Error(err))
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			logger.Fatal("save key", zap.Error(err))
		}
		fmt.Printf("address: %s\nsaved to: %s\n", w.Address(), *keyPath)
		return
	case *genCerts != "":
		files, err := certgen.GenerateAll(*genCerts, cfg.NodeID, nil)
		if err != nil {
			logger.Fatal("gencerts", zap.Error(err))
		}
		fmt.Printf("ca: %s\nserver: %s\nclient: %s\n", files.CACert, files.ServerCert, files.ClientCert)
		return
	}

	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		logger.Fatal("load key", zap.String("path", *keyPath), zap.Error(err))
	}
	if err := run(cfg, privKey, *reindex); err != nil {
		logger.Fatal("node stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, privKey crypto.PrivateKey, reindex bool) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open chain db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis committed", zap.String("hash", genesis.Hash), zap.String("chain_id", cfg.Genesis.ChainID))
	}

	emitter := events.NewEmitter()

	var journal *events.Journal
	if cfg.Journal.Enabled {
		journal = events.NewJournal(cfg.Journal.Dir, cfg.Journal.Prefix)
		defer journal.Close()
	}

	idx, closeIndex, err := openIndex(cfg, journal, reindex)
	if err != nil {
		return err
	}
	defer closeIndex()
	emitter.SubscribeAll(idx.Handle)
	if journal != nil {
		emitter.SubscribeAll(journal.Handle)
	}

	if cfg.NATS.Enabled {
		nc, err := events.ConnectNATS(events.NATSConfig{
			URL:            cfg.NATS.URL,
			ConnectionName: cfg.NATS.ConnectionName,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			PublishRetries: cfg.NATS.PublishRetries,
		}, cfg.NATS.ConnectTimeout)
		if err != nil {
			return err
		}
		defer nc.Drain()
		bridge := events.NewNATSBridge(nc, cfg.NATS.SubjectPrefix, cfg.NATS.PublishRetries)
		emitter.SubscribeAll(bridge.Handle)
		logger.Info("nats bridge enabled", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	mempool := core.NewMempool(cfg.Genesis.ChainID)
	poa := consensus.New(cfg, bc, state, mempool, emitter, privKey)

	serverTLS, err := cfg.RPC.TLS.ServerTLS()
	if err != nil {
		return fmt.Errorf("rpc tls: %w", err)
	}
	handler := rpc.NewHandler(bc, mempool, poa, idx, cfg.Genesis.ChainID)
	server := rpc.NewServer(cfg.RPC.Addr, handler, cfg.RPC.AuthToken, serverTLS)
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			logger.Warn("rpc shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("node running",
		zap.String("validator", privKey.Public().Hex()),
		zap.Int64("height", bc.Height()),
		zap.Duration("block_interval", cfg.BlockInterval),
		zap.Int("validators", len(cfg.Validators)))
	// Returns once the signal context is cancelled; deferred closers then
	// run in reverse: rpc, nats, index, journal, db.
	poa.Run(ctx, cfg.BlockInterval)
	logger.Info("shutting down")
	return nil
}

// openIndex opens the secondary index in its own database so it can be
// dropped and rebuilt without touching chain data.
func openIndex(cfg *config.Config, journal *events.Journal, reindex bool) (*indexer.Indexer, func(), error) {
	dir := filepath.Join(cfg.DataDir, "index")
	if reindex {
		if journal == nil {
			return nil, nil, errors.New("reindex needs the event journal enabled")
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, nil, fmt.Errorf("drop index: %w", err)
		}
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open index db: %w", err)
	}
	closeDB := func() { _ = db.Close() }
	idx, err := indexer.New(db, nil)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if reindex {
		files, err := journal.Files()
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		for _, path := range files {
			evs, err := events.ReadJournal(path)
			if err != nil {
				closeDB()
				return nil, nil, fmt.Errorf("read %s: %w", path, err)
			}
			idx.Replay(evs)
		}
		logger.Info("index rebuilt", zap.Int("files", len(files)), zap.Int64("height", idx.Height()))
	}
	return idx, closeDB, nil
}
