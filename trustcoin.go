package trustcoin

import (
	"context"
	"net/http"
	"sync"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/trustcoin/cache"
	"github.com/everFinance/trustcoin/chain"
	"github.com/everFinance/trustcoin/common"
	"github.com/everFinance/trustcoin/config"
	"github.com/everFinance/trustcoin/eligibility"
	"github.com/everFinance/trustcoin/reputation"
	"github.com/everFinance/trustcoin/schema"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
)

var log = common.NewLog("trustcoin")

type Trustcoin struct {
	config    *config.Config
	engine    *gin.Engine
	scheduler *gocron.Scheduler
	apiSrv    *http.Server
	metricSrv *http.Server

	store     *Store
	wdb       *Wdb
	claims    ClaimStore
	scores    ScoreReader
	whitelist WhitelistAdapter
	token     TokenAdapter
	chainCli  *chain.Client
	kafka     *KafkaPublisher

	policy     eligibility.Policy
	reconciler *Reconciler
	ledger     *ClaimLedger
	gate       *Gate

	lastSync       *schema.SyncResult
	lastSyncLocker sync.RWMutex
}

// New wires every component from cfg. Nothing reads the environment after this.
func New(cfg *config.Config) (*Trustcoin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitSentry(cfg.Sentry.Dsn, cfg.Sentry.Env); err != nil {
		log.Warn("common.InitSentry", "err", err)
	}

	store, err := NewBoltStore(cfg.BoltDir)
	if err != nil {
		return nil, err
	}
	var (
		claims ClaimStore
		wdb    *Wdb
	)
	switch cfg.Ledger.Backend {
	case config.LedgerBolt:
		claims = store
	case config.LedgerMysql:
		wdb, err = NewMysqlDb(cfg.Ledger.Dsn)
	default:
		wdb, err = NewSqliteDb(cfg.Ledger.SqliteDir)
	}
	if err != nil {
		store.Close()
		return nil, err
	}
	if wdb != nil {
		if err = wdb.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
		claims = wdb
	}

	localCache, err := cache.NewLocalCache(cfg.Reputation.CacheTTL)
	if err != nil {
		return nil, err
	}
	rep := reputation.New(cfg.Reputation.Url,
		reputation.WithTimeout(cfg.Reputation.Timeout),
		reputation.WithRateLimit(cfg.Reputation.RateLimit, cfg.Reputation.Burst),
		reputation.WithCache(localCache),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cli, err := chain.Dial(ctx, cfg.Chain.RpcUrl, cfg.Chain.AdminKey, cfg.Chain.ChainId,
		chain.WithGasLimit(cfg.Chain.GasLimit),
		chain.WithConfirmTimeout(cfg.Chain.ConfirmTimeout),
	)
	if err != nil {
		return nil, err
	}
	wl := chain.NewWhitelist(cli, gethcommon.HexToAddress(cfg.Chain.Registry), cfg.Chain.PolicyId)
	tk := chain.NewToken(cli, gethcommon.HexToAddress(cfg.Chain.Token))

	var (
		pub Publisher = nopPublisher{}
		kp  *KafkaPublisher
	)
	if cfg.Kafka.Start {
		kp, err = NewKafkaPublisher(cfg.Kafka.Uri)
		if err != nil {
			return nil, err
		}
		pub = kp
	}

	s := assemble(cfg, rep, wl, tk, claims, store, pub)
	s.wdb = wdb
	s.chainCli = cli
	s.kafka = kp
	return s, nil
}

func assemble(cfg *config.Config, scores ScoreReader, wl WhitelistAdapter, tk TokenAdapter,
	claims ClaimStore, store *Store, pub Publisher) *Trustcoin {
	unit, _ := cfg.ClaimUnit() // nil falls back to the default unit
	policy := eligibility.New(cfg.Eligibility.MinScore, unit)
	gate := NewGate(cfg.Claim.FreshnessWindow)

	s := &Trustcoin{
		config:     cfg,
		engine:     gin.Default(),
		scheduler:  gocron.NewScheduler(time.UTC),
		store:      store,
		claims:     claims,
		scores:     scores,
		whitelist:  wl,
		token:      tk,
		policy:     policy,
		gate:       gate,
		reconciler: NewReconciler(scores, wl, policy, cfg.Sync.Concurrency, pub),
		ledger:     NewClaimLedger(claims, tk, scores, policy, gate, wl.PolicyId(), pub),
	}
	s.registerRoutes()
	return s
}

func (s *Trustcoin) Run() {
	go s.runAPI(s.config.Port)
	if s.config.MetricPort != "" {
		s.metricSrv = common.NewMetricServer(s.config.MetricPort)
	}
	s.runJobs()
}

func (s *Trustcoin) Close() {
	s.scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.apiSrv != nil {
		if err := s.apiSrv.Shutdown(ctx); err != nil {
			log.Error("s.apiSrv.Shutdown(ctx)", "err", err)
		}
	}
	if s.metricSrv != nil {
		_ = s.metricSrv.Shutdown(ctx)
	}
	if s.kafka != nil {
		s.kafka.Close()
	}
	if s.wdb != nil {
		if err := s.wdb.Close(); err != nil {
			log.Error("s.wdb.Close()", "err", err)
		}
	}
	if err := s.store.Close(); err != nil {
		log.Error("s.store.Close()", "err", err)
	}
}

func (s *Trustcoin) Reconciler() *Reconciler {
	return s.reconciler
}

func (s *Trustcoin) Ledger() *ClaimLedger {
	return s.ledger
}

func (s *Trustcoin) Store() *Store {
	return s.store
}

// Candidates is the scheduled sync input: seed addresses plus everyone who claimed.
func (s *Trustcoin) Candidates() ([]string, error) {
	seeds, err := s.store.LoadCandidates()
	if err != nil {
		return nil, err
	}
	claims, err := s.ledger.GetAllClaims()
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(seeds)+len(claims))
	addrs = append(addrs, seeds...)
	for _, c := range claims {
		addrs = append(addrs, c.Address)
	}
	res, _ := schema.NormalizeAddresses(addrs)
	return res, nil
}

// SyncWhitelist runs one reconciliation. An empty addrs means the stored candidates.
func (s *Trustcoin) SyncWhitelist(ctx context.Context, addrs []string) (*schema.SyncResult, error) {
	if len(addrs) == 0 {
		var err error
		if addrs, err = s.Candidates(); err != nil {
			return nil, err
		}
	}
	res, err := s.reconciler.Sync(ctx, addrs)
	if res != nil {
		s.lastSyncLocker.Lock()
		s.lastSync = res
		s.lastSyncLocker.Unlock()
	}
	return res, err
}

func (s *Trustcoin) LastSync() *schema.SyncResult {
	s.lastSyncLocker.RLock()
	defer s.lastSyncLocker.RUnlock()
	return s.lastSync
}
