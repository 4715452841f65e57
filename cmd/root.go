package cmd

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/core/config"
	"github.com/flowdesk/msggate/core/database"
	"github.com/flowdesk/msggate/pkg/msgworker"
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/flowdesk/msggate/ratelimit"
	"github.com/flowdesk/msggate/session"
	"github.com/flowdesk/msggate/ui/websocket"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	autoreplyapp "github.com/flowdesk/msggate/autoreply/application"
	autoreplydomain "github.com/flowdesk/msggate/autoreply/domain"
	autoreplyrepo "github.com/flowdesk/msggate/autoreply/repository"
	whatsappinfra "github.com/flowdesk/msggate/infrastructure/whatsapp"
	jobqueueapp "github.com/flowdesk/msggate/jobqueue/application"
	jobdomain "github.com/flowdesk/msggate/jobqueue/domain"
	jobrepo "github.com/flowdesk/msggate/jobqueue/repository"
	messagingapp "github.com/flowdesk/msggate/messaging/application"
	messagingdomain "github.com/flowdesk/msggate/messaging/domain"
	cloudapi "github.com/flowdesk/msggate/messaging/infrastructure/cloudapi"
	messagingrepo "github.com/flowdesk/msggate/messaging/repository"
	ratelimitrepo "github.com/flowdesk/msggate/ratelimit/repository"
	sessiondomain "github.com/flowdesk/msggate/session/domain"
	sessionrepo "github.com/flowdesk/msggate/session/repository"
	tenantapp "github.com/flowdesk/msggate/tenant/application"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
	tenantrepo "github.com/flowdesk/msggate/tenant/repository"
	valkeyinfra "github.com/flowdesk/msggate/infrastructure/valkey"
)

var (
	db *gorm.DB

	tenantRepo  tenantdomain.ITenantRepository
	ruleRepo    autoreplydomain.IRuleRepository
	queueRepo   jobdomain.IQueueRepository
	sessionRepo sessiondomain.ISessionRepository
	store       messagingdomain.IMessageStore

	resolver       *tenantapp.Resolver
	matcher        *autoreplyapp.Matcher
	limiter        *ratelimit.Limiter
	sessionManager *session.Manager
	dispatcher     *messagingapp.Dispatcher
	pipeline       *messagingapp.Pipeline
	queueRunner    *jobqueueapp.Runner
	workerPool     *msgworker.Pool
	valkeyClient   *valkeyinfra.Client

	appStartTime = time.Now()
)

var rootCmd = &cobra.Command{
	Use:   "msggate",
	Short: "Multi-tenant messaging gateway",
	Long: `Gateway between business tenants and a messaging provider: live
sessions, webhook intake, auto replies, durable outbound dispatch.`,
}

func init() {
	utils.LoadConfig(".")
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	cobra.OnInitialize(initApp)
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}

// initApp wires the whole object graph. Both the rest and worker commands
// run on top of it; they differ only in which loops they start.
func initApp() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	db, err = database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	tenantRepo = tenantrepo.NewTenantGormRepository(db)
	ruleRepo = autoreplyrepo.NewRuleGormRepository(db)
	queueRepo = jobrepo.NewQueueGormRepository(db)
	sessionRepo = sessionrepo.NewSessionGormRepository(db)
	store = messagingrepo.NewMessageStoreGorm(db)

	ctx := context.Background()
	for name, initFn := range map[string]func(context.Context) error{
		"tenants":  tenantRepo.InitSchema,
		"rules":    ruleRepo.InitSchema,
		"queue":    queueRepo.InitSchema,
		"sessions": sessionRepo.InitSchema,
		"messages": store.InitSchema,
	} {
		if err := initFn(ctx); err != nil {
			logrus.Fatalf("Failed to migrate %s schema: %v", name, err)
		}
	}

	if cfg.Database.ValkeyEnabled {
		valkeyClient, err = valkeyinfra.NewClient(valkeyinfra.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Fatalf("Failed to connect to Valkey: %v", err)
		}
		logrus.Info("[INIT] Valkey connected, using shared rate limit buckets")
	}

	var bucketStore ratelimit.Store
	if valkeyClient != nil {
		bucketStore = ratelimitrepo.NewBucketValkeyStore(valkeyClient, int64(cfg.RateLimit.RetentionHours)*3600)
	} else {
		bucketStore = ratelimitrepo.NewBucketGormStore(db)
	}
	limiter = ratelimit.NewLimiter(bucketStore, cfg.IsProduction(),
		time.Duration(cfg.RateLimit.RetentionHours)*time.Hour)

	resolver = tenantapp.NewResolver(tenantRepo)
	matcher = autoreplyapp.NewMatcher(ruleRepo)

	sessionManager = session.NewManager(sessionRepo,
		whatsappinfra.NewBridgeFactory(cfg), cfg.Gateway.SessionReadyTimeout)

	dispatcher = messagingapp.NewDispatcher(resolver, store, limiter,
		cloudapi.NewClient(), sessionManager, queueRepo,
		cfg.RateLimit.SendLimit, cfg.RateLimit.WindowSeconds)

	pipeline = messagingapp.NewPipeline(resolver, store, matcher, dispatcher,
		cfg.Gateway.DedupeWindow)

	workerPool = msgworker.NewPool(cfg.Worker.Size, cfg.Worker.QueueSize)
	pipeline.SetWorkerPool(workerPool)

	sessionManager.SetInboundHandler(func(ctx context.Context, tenantID, sessionID string, msg sessiondomain.IncomingMessage) {
		err := pipeline.IngestLive(ctx, messagingapp.LiveMessage{
			TenantID:    tenantID,
			SessionID:   sessionID,
			Sender:      msg.Sender,
			PushName:    msg.PushName,
			MessageID:   msg.MessageID,
			Text:        msg.Text,
			MediaRef:    msg.MediaRef,
			MessageType: msg.MessageType,
			Timestamp:   msg.Timestamp,
		})
		if err != nil {
			logrus.WithError(err).WithField("tenant_id", tenantID).
				Warn("[INIT] Live message ingest failed")
		}
	})

	queueRunner = jobqueueapp.NewRunner(queueRepo, cfg.Queue.PollInterval,
		cfg.Queue.BatchSize, cfg.Queue.MaxAttempts,
		time.Duration(cfg.Queue.BackoffSeconds)*time.Second)
	queueRunner.RegisterHandler(messagingapp.JobTypeSendMessage, dispatcher.HandleSendJob)

	if valkeyClient != nil {
		serverID := utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)
		websocket.SetValkeyClient(valkeyClient, serverID)
	}
}

// StopApp tears subsystems down in dependency order.
func StopApp() {
	if sessionManager != nil {
		sessionManager.StopAll()
	}
	if workerPool != nil {
		workerPool.Stop()
	}
	if valkeyClient != nil {
		valkeyClient.Close()
	}
}
