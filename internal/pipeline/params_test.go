package pipeline_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/internal/pipeline"
)

var _ = Describe("Params", func() {
	It("reads typed values and ignores unknown keys", func() {
		p, err := pipeline.ParseParams(json.RawMessage(`{"model": "gpt-4o", "temperature": 0.7, "max_tokens": 250, "skip_if_simple": false, "extra": [1]}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(p.String("model", "gpt-4o-mini")).To(Equal("gpt-4o"))
		Expect(p.Float("temperature", 0.3)).To(Equal(0.7))
		Expect(p.Int("max_tokens", 500)).To(Equal(250))
		Expect(p.Bool("skip_if_simple", true)).To(BeFalse())
		Expect(p.String("prompt_id", "default")).To(Equal("default"))
		Expect(p.Invalid()).To(BeEmpty())
	})

	It("falls back to defaults for mistyped values and remembers them", func() {
		p, err := pipeline.ParseParams(json.RawMessage(`{"model": 4, "max_tokens": "lots", "temperature": true}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(p.String("model", "gpt-4o-mini")).To(Equal("gpt-4o-mini"))
		Expect(p.Int("max_tokens", 500)).To(Equal(500))
		Expect(p.Float("temperature", 0.3)).To(Equal(0.3))
		Expect(p.Invalid()).To(Equal([]string{"max_tokens", "model", "temperature"}))
	})

	It("reads whole-number floats as ints", func() {
		p, err := pipeline.ParseParams(json.RawMessage(`{"max_tokens": 3.0, "retries": 2.5, "limit": 1e3}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Int("max_tokens", 500)).To(Equal(3))
		Expect(p.Int("limit", 10)).To(Equal(1000))
		Expect(p.Int("retries", 1)).To(Equal(1))
		Expect(p.Invalid()).To(Equal([]string{"retries"}))
	})

	It("accepts string and numeric booleans", func() {
		p := pipeline.NewParams(map[string]any{"a": "true", "b": json.Number("0")})
		Expect(p.Bool("a", false)).To(BeTrue())
		Expect(p.Bool("b", true)).To(BeFalse())
	})

	It("treats empty and null params as no params", func() {
		for _, raw := range []string{``, `null`, `  `} {
			p, err := pipeline.ParseParams(json.RawMessage(raw))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Bool("auto_ticket_for_problems", true)).To(BeTrue())
		}
	})

	It("rejects params that are not an object but still yields usable defaults", func() {
		p, err := pipeline.ParseParams(json.RawMessage(`[1, 2]`))
		Expect(err).To(HaveOccurred())
		Expect(p.Int("max_tokens", 500)).To(Equal(500))
	})
})

var _ = Describe("Registry", func() {
	It("registers the built-in steps", func() {
		Expect(pipeline.NewBuiltinRegistry().Keys()).To(Equal([]string{
			"complexity_check", "gpt_analysis", "issue_detection", "persistence", "tone_detection",
		}))
	})

	It("rejects duplicate keys", func() {
		r := pipeline.NewRegistry()
		Expect(pipeline.RegisterBuiltins(r)).To(Succeed())
		Expect(r.Register("tone_detection", pipeline.NewToneDetectionStep)).To(MatchError(ContainSubstring("already registered")))
	})

	It("reports unknown keys as not found", func() {
		_, ok := pipeline.NewBuiltinRegistry().Lookup("sentiment_v2")
		Expect(ok).To(BeFalse())
	})

	It("covers every catalogued step type", func() {
		r := pipeline.NewBuiltinRegistry()
		for _, st := range pipeline.BuiltinStepTypes() {
			_, ok := r.Lookup(st.Key)
			Expect(ok).To(BeTrue(), st.Key)
		}
		Expect(pipeline.DefaultStepConfigs()).To(HaveLen(len(pipeline.BuiltinStepTypes())))
	})
})
