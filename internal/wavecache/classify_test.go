package wavecache_test

import (
	"net/http"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wavecache/internal/wavecache"
)

func request(raw, dest string) wavecache.Request {
	u, err := url.Parse(raw)
	Expect(err).NotTo(HaveOccurred())
	return wavecache.Request{Method: http.MethodGet, URL: u, Destination: dest, Header: make(http.Header)}
}

var _ = Describe("Classifier", func() {
	var c wavecache.Classifier

	BeforeEach(func() {
		cfg, err := wavecache.ParseConfig([]byte("server:\n  origin: https://radiowave.example\n"))
		Expect(err).NotTo(HaveOccurred())
		c = wavecache.NewClassifier(cfg)
	})

	DescribeTable("assigns a class",
		func(raw, dest string, want wavecache.Class) {
			Expect(c.Classify(request(raw, dest))).To(Equal(want))
		},
		Entry("app root", "https://radiowave.example/", "document", wavecache.ClassStatic),
		Entry("same-origin script", "https://radiowave.example/main.js", "script", wavecache.ClassStatic),
		Entry("same-origin stylesheet", "https://radiowave.example/styles.css", "style", wavecache.ClassStatic),
		Entry("uppercase extension", "https://radiowave.example/INDEX.HTML", "document", wavecache.ClassStatic),
		Entry("cross-origin stylesheet is not static", "https://cdn.jsdelivr.net/npm/bulma@1.0.0/css/bulma.min.css", "style", wavecache.ClassOther),
		Entry("flag icon", "https://flagcdn.com/w40/de.png", "", wavecache.ClassImage),
		Entry("image destination without extension", "https://logos.example/station/42", "image", wavecache.ClassImage),
		Entry("favicon marker", "https://radio.example/favicon", "", wavecache.ClassImage),
		Entry("directory host", "https://de1.api.radio-browser.info/json/stations/bycountry/Germany", "empty", wavecache.ClassAPI),
		Entry("json path marker", "https://mirror.example/json/tags", "empty", wavecache.ClassAPI),
		Entry("manifest", "https://radiowave.example/manifest.json", "manifest", wavecache.ClassOther),
		Entry("stream url", "https://stream.example/live.mp3", "audio", wavecache.ClassOther),
	)

	Context("when a request matches several classes", func() {
		It("prefers static over image", func() {
			Expect(c.Classify(request("https://radiowave.example/logo.html", "image"))).To(Equal(wavecache.ClassStatic))
		})

		It("prefers image over api", func() {
			req := request("https://de1.api.radio-browser.info/json/stations/favicon.png", "")
			Expect(c.IsAPI(req)).To(BeTrue())
			Expect(c.Classify(req)).To(Equal(wavecache.ClassImage))
		})
	})

	It("treats another port as another origin", func() {
		Expect(c.IsStatic(request("https://radiowave.example:8443/main.js", ""))).To(BeFalse())
	})

	It("ignores the default port when comparing origins", func() {
		Expect(c.IsStatic(request("https://radiowave.example:443/index.html", "document"))).To(BeTrue())
		Expect(c.IsStatic(request("http://radiowave.example:443/index.html", "document"))).To(BeFalse())
	})
})
