// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Heur-a/servidor/internal/store"
)

var _ = Describe("Postgres store", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("servidor_test"),
			postgres.WithUsername("servidor"),
			postgres.WithPassword("servidor"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	Describe("Connect", func() {
		It("returns a pool that answers the readiness probe", func() {
			pool, err := store.Connect(ctx, connStr, store.WithMaxConns(2))
			Expect(err).NotTo(HaveOccurred())
			defer pool.Close()

			Expect(store.Ready(pool)(ctx)).To(BeTrue())
		})
	})

	Describe("Migrator", func() {
		var migrator *store.Migrator

		BeforeEach(func() {
			var err error
			migrator, err = store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(migrator.Close()).To(Succeed())
		})

		It("runs the full up, step and down cycle", func() {
			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
			Expect(dirty).To(BeFalse())

			Expect(migrator.Up()).To(Succeed())
			status, err := migrator.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Version).To(Equal(uint(3)))
			Expect(status.Pending).To(BeEmpty())

			Expect(migrator.Steps(-1)).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(2)))

			Expect(migrator.Steps(1)).To(Succeed())
			Expect(migrator.Down()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
		})

		It("creates the auth tables", func() {
			Expect(migrator.Up()).To(Succeed())

			pool, err := store.Connect(ctx, connStr)
			Expect(err).NotTo(HaveOccurred())
			defer pool.Close()

			for _, table := range []string{"users", "verification_codes", "sessions"} {
				var exists bool
				err := pool.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
					table).Scan(&exists)
				Expect(err).NotTo(HaveOccurred())
				Expect(exists).To(BeTrue(), table)
			}
		})
	})
})
