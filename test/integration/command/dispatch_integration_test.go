// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package command_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/script"
	"github.com/holomush/botcmd/internal/store"
)

// chatMessage is a message from one user with a fixed permission context.
type chatMessage struct {
	content string
	user    string
	perms   []command.Permission

	mu      sync.Mutex
	replies []string
}

func newMessage(user, content string) *chatMessage {
	return &chatMessage{user: user, content: content}
}

func (m *chatMessage) Content() string { return m.content }

func (m *chatMessage) Author() command.Author {
	return command.Author{ID: m.user, Username: m.user}
}

func (m *chatMessage) Permissions() ([]command.Permission, bool) {
	return m.perms, m.perms != nil
}

func (m *chatMessage) Reply(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return nil
}

func (m *chatMessage) Replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.replies...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Dispatcher with a SQLite cooldown store", func() {
	var (
		ctx     context.Context
		dbPath  string
		backend store.Backend
		runs    atomic.Int32
	)

	newDispatcher := func(b store.Backend, cmds ...command.Command) *command.Dispatcher {
		d, err := command.NewDispatcher(command.NewRegistry(),
			command.WithLogger(quietLogger()),
			command.WithCooldownTracker(command.NewCooldownTracker(b)),
			command.WithReleaseTimeout(200*time.Millisecond),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Register(cmds...)).To(Succeed())
		return d
	}

	counted := func(spec command.Spec) command.Command {
		return command.New(spec, func(context.Context, command.Message, []string) error {
			runs.Add(1)
			return nil
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		runs.Store(0)
		dbPath = filepath.Join(GinkgoT().TempDir(), "cooldowns.db")
		var err error
		backend, err = store.Open(ctx, store.Options{Driver: store.DriverSQLite, Path: dbPath})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if backend != nil {
			Expect(backend.Close()).To(Succeed())
		}
	})

	It("keeps cooldowns across a restart", func() {
		spec := command.Spec{Name: "daily", Cooldown: time.Hour}
		d := newDispatcher(backend, counted(spec))
		Expect(d.Dispatch(ctx, newMessage("u1", "!daily"))).To(Equal(command.StatusSuccess))
		Expect(backend.Close()).To(Succeed())

		var err error
		backend, err = store.Open(ctx, store.Options{Driver: store.DriverSQLite, Path: dbPath})
		Expect(err).NotTo(HaveOccurred())

		var left command.TimeLeft
		d, err = command.NewDispatcher(command.NewRegistry(),
			command.WithLogger(quietLogger()),
			command.WithCooldownTracker(command.NewCooldownTracker(backend)),
			command.WithCooldownHandler(func(_ context.Context, _ command.Message, _ command.Command, l command.TimeLeft) {
				left = l
			}),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Register(counted(spec))).To(Succeed())

		Expect(d.Dispatch(ctx, newMessage("u1", "!daily"))).To(Equal(command.StatusOnCooldown))
		Expect(left.Ready()).To(BeFalse())
		Expect(left.Remaining).To(BeNumerically(">", 59*time.Minute))
		Expect(d.Dispatch(ctx, newMessage("u2", "!daily"))).To(Equal(command.StatusSuccess))
		Expect(runs.Load()).To(Equal(int32(2)))
	})

	It("admits exactly the usage threshold under concurrent invocations", func() {
		d := newDispatcher(backend, counted(command.Spec{Name: "spam", Cooldown: time.Minute, UsageThreshold: 3}))

		var wg sync.WaitGroup
		statuses := make(chan command.Status, 20)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				statuses <- d.Dispatch(ctx, newMessage("u1", "!spam"))
			}()
		}
		wg.Wait()
		close(statuses)

		counts := map[command.Status]int{}
		for s := range statuses {
			counts[s]++
		}
		Expect(counts[command.StatusSuccess]).To(Equal(3))
		Expect(counts[command.StatusOnCooldown]).To(Equal(17))
		Expect(runs.Load()).To(Equal(int32(3)))
	})

	It("rolls a failed invocation back in the store", func() {
		fail := true
		d := newDispatcher(backend, command.New(command.Spec{Name: "flaky", Cooldown: time.Minute}, func(context.Context, command.Message, []string) error {
			if fail {
				return errors.New("upstream timeout")
			}
			return nil
		}))

		Expect(d.Dispatch(ctx, newMessage("u1", "!flaky"))).To(Equal(command.StatusError))
		fail = false
		Expect(d.Dispatch(ctx, newMessage("u1", "!flaky"))).To(Equal(command.StatusSuccess))
		Expect(d.Dispatch(ctx, newMessage("u1", "!flaky"))).To(Equal(command.StatusOnCooldown))
	})

	It("runs one exclusive invocation per user", func() {
		release := make(chan struct{})
		started := make(chan struct{}, 10)
		d := newDispatcher(backend, command.New(command.Spec{Name: "render", Exclusive: true}, func(context.Context, command.Message, []string) error {
			started <- struct{}{}
			<-release
			return nil
		}))

		first := make(chan command.Status, 1)
		go func() { first <- d.Dispatch(ctx, newMessage("u1", "!render")) }()
		Eventually(started).Should(Receive())

		busy := newMessage("u1", "!render")
		Expect(d.Dispatch(ctx, busy)).To(Equal(command.StatusAlreadyRunning))
		Expect(busy.Replies()).To(ConsistOf("There's already an instance of render command running"))

		other := make(chan command.Status, 1)
		go func() { other <- d.Dispatch(ctx, newMessage("u2", "!render")) }()
		Eventually(started).Should(Receive(), "another user is not blocked")

		close(release)
		Eventually(first).Should(Receive(Equal(command.StatusSuccess)))
		Eventually(other).Should(Receive(Equal(command.StatusSuccess)))
		Expect(d.Dispatch(ctx, newMessage("u1", "!render"))).To(Equal(command.StatusSuccess))
	})

	It("frees a stuck exclusive command after the release timeout", func() {
		release := make(chan struct{})
		defer close(release)
		var calls atomic.Int32
		d := newDispatcher(backend, command.New(command.Spec{Name: "stuck", Exclusive: true}, func(context.Context, command.Message, []string) error {
			if calls.Add(1) == 1 {
				<-release
			}
			return nil
		}))

		go d.Dispatch(ctx, newMessage("u1", "!stuck"))
		Eventually(func() command.Status {
			return d.Dispatch(ctx, newMessage("u1", "!stuck"))
		}).WithTimeout(2 * time.Second).WithPolling(50 * time.Millisecond).Should(Equal(command.StatusSuccess))
	})

	It("gates on permissions only when they resolve", func() {
		d := newDispatcher(backend, counted(command.Spec{Name: "ban", Permissions: []command.Permission{"BAN_MEMBERS"}}))

		denied := newMessage("u1", "!ban")
		denied.perms = []command.Permission{"SEND_MESSAGES"}
		Expect(d.Dispatch(ctx, denied)).To(Equal(command.StatusPermissionDenied))

		granted := newMessage("u1", "!ban")
		granted.perms = []command.Permission{"SEND_MESSAGES", "BAN_MEMBERS"}
		Expect(d.Dispatch(ctx, granted)).To(Equal(command.StatusSuccess))

		Expect(d.Dispatch(ctx, newMessage("u1", "!ban"))).To(Equal(command.StatusSuccess), "direct messages have no permission context")
	})

	It("runs Lua commands that keep state in the store", func() {
		loader := script.NewLoader(script.WithStore(backend), script.WithLogger(quietLogger()))
		cmd, err := loader.Load(ctx, "tally.lua", `
command = { name = "tally", aliases = {"t"} }

function command.run(ctx)
    local key = ctx.user.id
    local n = tonumber(bot.kv_get(key) or "0") + #ctx.args
    bot.kv_set(key, tostring(n))
    bot.reply(ctx.user.name .. " has " .. n)
end
`)
		Expect(err).NotTo(HaveOccurred())
		d := newDispatcher(backend, cmd)

		msg := newMessage("u1", "!tally a b")
		Expect(d.Dispatch(ctx, msg)).To(Equal(command.StatusSuccess))
		msg2 := newMessage("u1", "!t c")
		Expect(d.Dispatch(ctx, msg2)).To(Equal(command.StatusSuccess))

		Expect(msg.Replies()).To(ConsistOf("u1 has 2"))
		Expect(msg2.Replies()).To(ConsistOf("u1 has 3"))
	})
})

var _ = Describe("Rate limiting", func() {
	It("limits floods per user independently of cooldowns", func() {
		rl := command.NewRateLimiter(command.RateLimiterConfig{BurstCapacity: 3, SustainedRate: 10})
		DeferCleanup(rl.Close)

		d, err := command.NewDispatcher(command.NewRegistry(),
			command.WithLogger(quietLogger()),
			command.WithRateLimiter(rl),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Register(command.New(command.Spec{Name: "ping"}, nil))).To(Succeed())

		ctx := context.Background()
		for range 3 {
			Expect(d.Dispatch(ctx, newMessage("u1", "!ping"))).To(Equal(command.StatusSuccess))
		}
		Expect(d.Dispatch(ctx, newMessage("u1", "!ping"))).To(Equal(command.StatusRateLimited))
		Expect(d.Dispatch(ctx, newMessage("u2", "!ping"))).To(Equal(command.StatusSuccess))

		Eventually(func() command.Status {
			return d.Dispatch(ctx, newMessage("u1", "!ping"))
		}).WithTimeout(time.Second).WithPolling(50 * time.Millisecond).Should(Equal(command.StatusSuccess))
	})
})
