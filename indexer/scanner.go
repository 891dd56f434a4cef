// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opendex/indexer/decoder"
	"github.com/opendex/indexer/solana"
	"github.com/opendex/indexer/storage"
)

// accountSource lists program accounts matching a discriminator.
type accountSource interface {
	GetProgramAccounts(ctx context.Context, program string, discriminator []byte) ([]solana.ProgramAccount, error)
}

// ScanMarkets fetches all market accounts owned by the program and
// decodes them. Accounts that fail to decode are skipped with a log
// line rather than failing the scan.
func ScanMarkets(ctx context.Context, client accountSource, programID string) ([]*decoder.MarketAccount, error) {
	accounts, err := client.GetProgramAccounts(ctx, programID, decoder.MarketDiscriminator[:])
	if err != nil {
		return nil, fmt.Errorf("scan markets: %w", err)
	}

	var markets []*decoder.MarketAccount
	for _, acct := range accounts {
		if acct.Owner != "" && acct.Owner != programID {
			log.Printf("Skipping %s: owned by %s, not the DEX program", short(acct.Address), short(acct.Owner))
			continue
		}
		market, err := decoder.DecodeMarketAccount(acct.Data, acct.Address)
		if err != nil {
			log.Printf("Failed to decode market %s: %v", short(acct.Address), err)
			continue
		}
		markets = append(markets, market)
	}
	return markets, nil
}

// IndexMarkets scans on-chain market accounts and upserts them into
// storage. It returns the number of markets stored.
func IndexMarkets(ctx context.Context, client accountSource, store storage.Store, programID string) (int, error) {
	markets, err := ScanMarkets(ctx, client, programID)
	if err != nil {
		return 0, err
	}
	if len(markets) == 0 {
		log.Printf("No markets found on-chain for program %s", short(programID))
		return 0, nil
	}

	now := time.Now().UnixMilli()
	indexed := 0
	for _, m := range markets {
		err := store.UpsertMarket(ctx, &storage.Market{
			ID:            m.Address,
			BaseMint:      m.BaseMint,
			QuoteMint:     m.QuoteMint,
			Symbol:        m.Name,
			BaseDecimals:  int(m.BaseDecimals),
			QuoteDecimals: int(m.QuoteDecimals),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			log.Printf("Failed to store market %s: %v", short(m.Address), err)
			continue
		}
		indexed++
		log.Printf("Market indexed: %s (%s)", m.Name, m.Address)
	}
	return indexed, nil
}
