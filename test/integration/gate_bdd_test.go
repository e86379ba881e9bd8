//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/config"
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/infra"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
	"github.com/eliteGoblin/focusd/site_gate/test/fixtures"
)

var epoch = time.Unix(1_700_000_000, 0)

// openEncryptedStore opens the SQLCipher store in dir with the key kept there.
func openEncryptedStore(dir string) *infra.EncryptedStore {
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
	Expect(err).NotTo(HaveOccurred())
	store, err := infra.NewEncryptedStore(dir, key, 20*time.Millisecond)
	Expect(err).NotTo(HaveOccurred())
	return store
}

var _ = Describe("Access gate over the encrypted store", func() {
	var (
		tmpDir  string
		store   *infra.EncryptedStore
		clock   *fixtures.ManualClock
		browser *fixtures.FakeBrowser
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sitegate-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store = openEncryptedStore(tmpDir)
		clock = fixtures.NewManualClock(epoch)

		cfg := config.Defaults()
		cfg.Sites = []domain.Site{
			{Filter: "x.com", Strategy: domain.StrategySoft},
			{Filter: "youtube.com", Strategy: domain.StrategyHard},
		}
		cfg.SoftRoutines = []domain.SoftRoutine{{Label: "Lunch", Duration: 1800, ResetTime: 72000}}
		Expect(store.Set(context.Background(), domain.KeyConfig, cfg)).To(Succeed())

		browser = fixtures.StartFakeBrowser(store, clock, "browser-1")
	})

	AfterEach(func() {
		Expect(browser.Close()).To(Succeed())
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Describe("soft routines", func() {
		Context("when Lunch has never been used", func() {
			It("should block x.com until the routine starts", func() {
				access, err := browser.Status("x.com", "https://x.com/home")
				Expect(err).NotTo(HaveOccurred())
				Expect(access).To(BeFalse())

				lunch := domain.SoftRoutine{Label: "Lunch", Duration: 1800, ResetTime: 72000}
				_, err = browser.Request(usecase.Request{Action: usecase.ActionStartSoftRoutine, Routine: &lunch})
				Expect(err).NotTo(HaveOccurred())

				access, err = browser.Status("x.com", "https://x.com/home")
				Expect(err).NotTo(HaveOccurred())
				Expect(access).To(BeTrue())
			})
		})

		Context("when the routine window has passed", func() {
			It("should block again and report the routine as burned", func() {
				lunch := domain.SoftRoutine{Label: "Lunch", Duration: 1800, ResetTime: 72000}
				_, err := browser.Request(usecase.Request{Action: usecase.ActionStartSoftRoutine, Routine: &lunch})
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(1800 * time.Second)

				access, err := browser.Status("x.com", "https://x.com/home")
				Expect(err).NotTo(HaveOccurred())
				Expect(access).To(BeFalse())

				reply, err := browser.Request(usecase.Request{Action: usecase.ActionRoutines})
				Expect(err).NotTo(HaveOccurred())
				Expect(reply.Routines).To(HaveLen(1))
				Expect(reply.Routines[0].State).To(Equal(domain.RoutineBurned))
			})
		})

		Context("when the site is hard", func() {
			It("should ignore the routine", func() {
				lunch := domain.SoftRoutine{Label: "Lunch", Duration: 1800, ResetTime: 72000}
				_, err := browser.Request(usecase.Request{Action: usecase.ActionStartSoftRoutine, Routine: &lunch})
				Expect(err).NotTo(HaveOccurred())

				access, err := browser.Status("www.youtube.com", "https://www.youtube.com/")
				Expect(err).NotTo(HaveOccurred())
				Expect(access).To(BeFalse())
			})
		})
	})

	Describe("hard activation", func() {
		It("should unblock only the activated host for timeSeconds", func() {
			_, err := browser.Request(usecase.Request{Action: usecase.ActionHostActivated, Host: "www.youtube.com"})
			Expect(err).NotTo(HaveOccurred())

			access, err := browser.Status("www.youtube.com", "https://www.youtube.com/")
			Expect(err).NotTo(HaveOccurred())
			Expect(access).To(BeTrue())

			access, err = browser.Status("m.youtube.com", "https://m.youtube.com/")
			Expect(err).NotTo(HaveOccurred())
			Expect(access).To(BeFalse())

			clock.Advance(5 * time.Minute)
			access, err = browser.Status("www.youtube.com", "https://www.youtube.com/")
			Expect(err).NotTo(HaveOccurred())
			Expect(access).To(BeFalse())
		})
	})

	Describe("unknown requests", func() {
		It("should answer with a protocol error", func() {
			reply, err := browser.Request(usecase.Request{Action: "snooze"})
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Error).To(ContainSubstring("unknown action"))
		})
	})

	Describe("configuration changes from another process", func() {
		It("should recompile the matchers of the running host", func() {
			access, err := browser.Status("reddit.com", "https://reddit.com/")
			Expect(err).NotTo(HaveOccurred())
			Expect(access).To(BeTrue())

			// A second handle on the same database, as the CLI would open.
			cli := openEncryptedStore(tmpDir)
			defer cli.Close()

			path := filepath.Join(tmpDir, "sites.toml")
			Expect(os.WriteFile(path, []byte(`
[[sites]]
filter = "reddit.com"
strategy = "hard"
`), 0644)).To(Succeed())
			cfg, err := config.LoadFile(path)
			Expect(err).NotTo(HaveOccurred())

			engine := usecase.NewEngine(cli, clock, zap.NewNop())
			Expect(engine.ImportConfig(context.Background(), cfg)).To(Succeed())

			Eventually(func() (bool, error) {
				return browser.Status("reddit.com", "https://reddit.com/")
			}, 3*time.Second, 50*time.Millisecond).Should(BeFalse())
		})
	})
})
