package services

import (
	"github.com/oneinbox/mailsync/config"
	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/services/classifier"
	imapservice "github.com/oneinbox/mailsync/services/imap"
	"github.com/oneinbox/mailsync/services/sanitizer"
	"github.com/oneinbox/mailsync/services/search"
	"github.com/oneinbox/mailsync/services/sync"
)

type Services struct {
	Sanitizer        interfaces.Sanitizer
	ClassifierHandle *classifier.Handle
	IndexWriter      interfaces.IndexWriter
	Dialer           interfaces.SessionDialer
	SyncService      interfaces.SyncService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) *Services {
	htmlSanitizer := sanitizer.NewHTMLSanitizer()

	classifierHandle := classifier.NewHandle()
	if cfg.Classifier.Url != "" {
		classifierHandle.SetReady(classifier.NewHTTPClassifier(cfg.Classifier))
	} else {
		classifierHandle.SetReady(classifier.NewKeywordClassifier())
	}

	indexWriter := search.NewElasticIndexWriter(cfg.Elastic)
	dialer := imapservice.NewDialer(log)

	engine := sync.NewEngine(
		*cfg.Engine,
		repos.CursorRepository,
		indexWriter,
		htmlSanitizer,
		classifierHandle,
		log,
	)

	manager := sync.NewManager(
		*cfg.Manager,
		engine,
		dialer,
		repos.AccountRepository,
		sync.DefaultRetryPolicy(),
		log,
	)

	return &Services{
		Sanitizer:        htmlSanitizer,
		ClassifierHandle: classifierHandle,
		IndexWriter:      indexWriter,
		Dialer:           dialer,
		SyncService:      manager,
	}
}
