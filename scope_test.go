package eventhubscope_test

import (
	"context"
	"net/url"
	"regexp"
	"time"

	scope "github.com/dihedron/eventhubscope"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubCredential struct{}

func (stubCredential) GetToken(_ context.Context, _ string) (string, time.Time, error) {
	return "stub-token", time.Now().Add(time.Hour), nil
}

var _ = Describe("Scope construction", func() {
	var endpoint *url.URL

	BeforeEach(func() {
		var err error
		endpoint, err = url.Parse("sb://ns.example.net/")
		Expect(err).NotTo(HaveOccurred())
	})

	// Seed scenario 1 (spec.md §8): id matches "^eh-[0-9a-f]{8}$"; Dispose
	// twice is a no-op.
	It("generates an id matching {entity}-{rand8hex} and disposes idempotently", func() {
		s, err := scope.New(endpoint, "eh", stubCredential{}, scope.TCPTLS)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.ID()).To(MatchRegexp(`^eh-[0-9a-f]{8}$`))

		Expect(s.Dispose()).To(Succeed())
		Expect(s.Dispose()).To(Succeed())
		Expect(s.IsDisposed()).To(BeTrue())
	})

	It("accepts an explicit scope id override", func() {
		s, err := scope.New(endpoint, "eh", stubCredential{}, scope.TCPTLS, scope.WithScopeID("fixed-id"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.ID()).To(Equal("fixed-id"))
	})

	// Seed scenario 6 (spec.md §8): constructing with an invalid transport
	// fails with ArgumentError before any opener is reachable.
	It("rejects an unsupported transport with an ArgumentError", func() {
		_, err := scope.New(endpoint, "eh", stubCredential{}, scope.TransportKind(99))
		Expect(err).To(HaveOccurred())
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})

	It("rejects a nil endpoint", func() {
		_, err := scope.New(nil, "eh", stubCredential{}, scope.TCPTLS)
		Expect(err).To(HaveOccurred())
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})

	It("rejects an empty entity", func() {
		_, err := scope.New(endpoint, "", stubCredential{}, scope.TCPTLS)
		Expect(err).To(HaveOccurred())
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})

	It("rejects a nil credential", func() {
		_, err := scope.New(endpoint, "eh", nil, scope.TCPTLS)
		Expect(err).To(HaveOccurred())
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})

	It("rejects a proxy on the TCPTLS transport", func() {
		proxyURL, _ := url.Parse("http://127.0.0.1:8080")
		_, err := scope.New(endpoint, "eh", stubCredential{}, scope.TCPTLS, scope.WithProxy(scope.ProxyConfig{URL: proxyURL}))
		Expect(err).To(HaveOccurred())
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})

	It("rejects operations after dispose", func() {
		s, err := scope.New(endpoint, "eh", stubCredential{}, scope.TCPTLS)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Dispose()).To(Succeed())

		_, err = s.OpenManagementLink(context.Background(), time.Second)
		Expect(err).To(MatchError(scope.ErrDisposed))
	})

	It("rejects an empty consumer group or partition id", func() {
		s, err := scope.New(endpoint, "eh", stubCredential{}, scope.TCPTLS)
		Expect(err).NotTo(HaveOccurred())
		defer s.Dispose()

		_, err = s.OpenConsumerLink(context.Background(), "", "0", scope.EarliestEventPosition(), scope.ConsumerOptions{}, time.Second)
		Expect(scope.IsArgumentError(err)).To(BeTrue())

		_, err = s.OpenConsumerLink(context.Background(), "$Default", "", scope.EarliestEventPosition(), scope.ConsumerOptions{}, time.Second)
		Expect(scope.IsArgumentError(err)).To(BeTrue())
	})
})

var _ = Describe("scope id format", func() {
	It("always has exactly 8 lowercase hex characters after the dash", func() {
		re := regexp.MustCompile(`^[a-z0-9]+-[0-9a-f]{8}$`)
		for i := 0; i < 20; i++ {
			endpoint, _ := url.Parse("sb://ns.example.net/")
			s, err := scope.New(endpoint, "myhub", stubCredential{}, scope.TCPTLS)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.ID()).To(MatchRegexp(re.String()))
			_ = s.Dispose()
		}
	})
})
