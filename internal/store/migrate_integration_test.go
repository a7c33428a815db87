//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keystride/keystride/internal/store"
)

var _ = Describe("Schema bootstrap", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("keystride_test"),
			postgres.WithUsername("keystride"),
			postgres.WithPassword("keystride"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("applies the embedded schema once", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = migrator.Close() }()

		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1}))

		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "second Up should be a no-op")

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})

	It("opens a pool against the migrated database", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err := store.NewPool(ctx, connStr, store.PoolOptions{MaxConns: 4})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var count int
		Expect(pool.QueryRow(ctx, "SELECT count(*) FROM users").Scan(&count)).To(Succeed())
		Expect(count).To(BeZero())
	})
})
