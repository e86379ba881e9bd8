//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/site_gate/internal/config"
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/infra"
	"github.com/eliteGoblin/focusd/site_gate/test/fixtures"
)

var _ = Describe("Session tracking across host restarts", func() {
	const (
		patternP = "*://*.reddit.com/*"
		patternQ = "*://*.youtube.com/*"
	)

	var (
		tmpDir string
		store  *infra.EncryptedStore
		clock  *fixtures.ManualClock
	)

	sessions := func() []domain.Session {
		var log []domain.Session
		_, err := store.Get(context.Background(), domain.KeySessions, &log)
		Expect(err).NotTo(HaveOccurred())
		return log
	}

	tabActivated := func(tabID int, url string) domain.NavEvent {
		return domain.NavEvent{Kind: domain.EventTabActivated, TabID: tabID, WindowID: 1, URL: url}
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sitegate-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store = openEncryptedStore(tmpDir)
		clock = fixtures.NewManualClock(epoch)

		cfg := config.Defaults()
		cfg.Sites = []domain.Site{{Filter: "reddit.com"}, {Filter: "youtube.com"}}
		Expect(store.Set(context.Background(), domain.KeyConfig, cfg)).To(Succeed())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Context("when focus moves P -> Q -> away", func() {
		It("should log exactly two sessions", func() {
			browser := fixtures.StartFakeBrowser(store, clock, "browser-1")

			Expect(browser.Event(tabActivated(1, "https://old.reddit.com/r/golang"))).To(Succeed())
			clock.Advance(100 * time.Second)
			Expect(browser.Event(domain.NavEvent{
				Kind: domain.EventNavigationCommitted, TabID: 1, WindowID: 1,
				URL: "https://www.youtube.com/watch?v=x", Active: true,
			})).To(Succeed())
			clock.Advance(50 * time.Second)
			Expect(browser.Event(domain.NavEvent{Kind: domain.EventWindowFocusChanged, WindowID: domain.WindowIDNone})).To(Succeed())

			Expect(browser.Close()).To(Succeed())

			t0 := epoch.Unix()
			Expect(sessions()).To(Equal([]domain.Session{
				{Pattern: patternP, Start: t0, End: t0 + 100, TS: t0 + 100},
				{Pattern: patternQ, Start: t0 + 100, End: t0 + 150, TS: t0 + 150},
			}))
		})
	})

	Context("when the host crashes mid-session", func() {
		It("should close the orphaned session with an estimate on the next start", func() {
			crashed := fixtures.StartFakeBrowser(store, clock, "browser-1")
			Expect(crashed.Event(tabActivated(1, "https://reddit.com/"))).To(Succeed())
			crashed.Kill()

			var active *domain.ActiveSession
			_, err := store.Get(context.Background(), domain.KeyActiveSession, &active)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).NotTo(BeNil())
			Expect(active.ProcessID).To(Equal("browser-1"))

			clock.Advance(time.Hour)
			restarted := fixtures.StartFakeBrowser(store, clock, "browser-2")
			Expect(restarted.Event(tabActivated(1, "https://youtube.com/"))).To(Succeed())
			Expect(restarted.Close()).To(Succeed())

			log := sessions()
			Expect(log).To(HaveLen(2))
			Expect(log[0].Pattern).To(Equal(patternP))
			Expect(log[0].End - log[0].Start).To(Equal(int64(30)))
			Expect(log[1].Pattern).To(Equal(patternQ))
		})
	})

	Context("when the browser exits normally", func() {
		It("should close the active session at exit time", func() {
			browser := fixtures.StartFakeBrowser(store, clock, "browser-1")
			Expect(browser.Event(tabActivated(3, "https://reddit.com/"))).To(Succeed())
			clock.Advance(42 * time.Second)
			Expect(browser.Close()).To(Succeed())

			log := sessions()
			Expect(log).To(HaveLen(1))
			Expect(log[0].End - log[0].Start).To(Equal(int64(42)))
		})
	})
})
