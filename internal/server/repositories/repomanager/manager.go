package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/payments"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/properties"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/users"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/webhookevents"
)

// RepositoryManager vends repositories bound to a DBTX, which is either the
// pool or the transaction handed to a dbx.TxFunc.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Properties(db dbx.DBTX) properties.Repository
	Contracts(db dbx.DBTX) contracts.Repository
	Payments(db dbx.DBTX) payments.Repository
	WebhookEvents(db dbx.DBTX) webhookevents.Repository
}
