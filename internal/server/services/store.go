// Package services contains the server-side business logic: the contract
// lifecycle, payment linkage, accounts, KYC review and property listings.
package services

import (
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/repomanager"
)

// Store groups the persistence handles shared by all services. DB serves
// single-statement reads and writes; multi-step changes go through Tx.
type Store struct {
	DB    dbx.DBTX
	Tx    dbx.Transactor
	Repos repomanager.RepositoryManager
}
