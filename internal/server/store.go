package server

import (
	"context"

	"domaindns/internal/database"
	"domaindns/internal/model"
	"domaindns/internal/service"
)

// domainStore adapts *database.DB to service.DomainStore. The embedded DB
// provides every query method; only InTx needs rewrapping (the transaction
// view must itself be a DomainStore) and InsertUserDomain needs constraint
// translation.
type domainStore struct {
	*database.DB
}

func newDomainStore(db *database.DB) domainStore {
	return domainStore{DB: db}
}

func (s domainStore) InTx(ctx context.Context, fn func(tx service.DomainStore) error) error {
	return s.DB.InTx(ctx, func(tx *database.DB) error {
		return fn(domainStore{DB: tx})
	})
}

func (s domainStore) InsertUserDomain(ctx context.Context, d model.UserDomain) (int64, error) {
	id, err := s.DB.InsertUserDomain(ctx, d)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case database.ConstraintUserDomainOwner:
				return 0, service.ErrDuplicateClaim
			case database.ConstraintUserDomainName:
				return 0, service.ErrNameTaken
			}
		}
		return 0, err
	}
	return id, nil
}

// ledgerStore adapts *database.DB to service.LedgerStore.
type ledgerStore struct {
	*database.DB
}

func newLedgerStore(db *database.DB) ledgerStore {
	return ledgerStore{DB: db}
}

func (s ledgerStore) InTx(ctx context.Context, fn func(tx service.LedgerStore) error) error {
	return s.DB.InTx(ctx, func(tx *database.DB) error {
		return fn(ledgerStore{DB: tx})
	})
}
