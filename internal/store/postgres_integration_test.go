// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

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

	"github.com/holomush/botcmd/internal/store"
)

var _ = Describe("Postgres backend", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		dsn       string
		backend   *store.Postgres
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("botcmd_test"),
			postgres.WithUsername("botcmd"),
			postgres.WithPassword("botcmd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())

		backend, err = store.OpenPostgres(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if backend != nil {
			Expect(backend.Close()).To(Succeed())
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("round-trips values per table", func() {
		kv := backend.Table("cooldowns")
		Expect(kv.Set(ctx, "ping-1", []byte(`"x"`))).To(Succeed())

		got, ok, err := kv.Get(ctx, "ping-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte(`"x"`)))

		_, ok, err = backend.Table("command_usages").Get(ctx, "ping-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("keeps the first value on ensure", func() {
		kv := backend.Table("command_usages")
		first, err := kv.Ensure(ctx, "echo-2", []byte("0"))
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal([]byte("0")))

		Expect(kv.Set(ctx, "echo-2", []byte("2"))).To(Succeed())
		again, err := kv.Ensure(ctx, "echo-2", []byte("0"))
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(Equal([]byte("2")))
	})

	It("migrates down and back up", func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(migrator.Close)

		Expect(migrator.Down()).To(Succeed())
		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1}))
		Expect(migrator.Up()).To(Succeed())
	})
})
