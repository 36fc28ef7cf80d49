package workflow

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
)

var _ = Describe("Orchestrator routing", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	drain := func(sub *events.Subscription[events.StateEvent]) []events.StateEvent {
		var out []events.StateEvent
		for len(sub.C()) > 0 {
			out = append(out, <-sub.C())
		}
		return out
	}

	DescribeTable("routes a claim by validation confidence",
		func(score float64, want domain.ClaimStatus, reason string) {
			cfg := state.DefaultConfig()
			cfg.MaxCorrectionAttempts = 1
			h = newHarness(GinkgoT(), happyStages(), cfg, WithScorer(fixedScore(score)))
			h.seed(GinkgoT(), "CLM-T")

			res, err := h.orch.ProcessClaim(ctx, "CLM-T")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.FinalStatus).To(Equal(want))
			Expect(res.Reason).To(Equal(reason))
		},
		Entry("at the auto-process threshold", 0.85, domain.StatusCompleted, ""),
		Entry("inside the correction band", 0.60, domain.StatusPendingReview, ReasonMaxCorrections),
		Entry("just below the correction threshold", 0.599, domain.StatusPendingReview, ReasonLowConfidence),
	)

	It("publishes a legal transition for every status change of a completed claim", func() {
		h = newHarness(GinkgoT(), happyStages(), state.DefaultConfig())
		sub := h.bus.State.Subscribe(128)
		defer sub.Close()

		By("uploading a document and driving it to completion")
		res, err := h.orch.ProcessDocument(ctx, DocumentInput{DocumentID: "doc-bdd", Content: []byte("claim A-100")})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Success).To(BeTrue())

		By("checking the transition stream against the graph")
		var transitions []events.StateEvent
		updated := map[string]int{}
		for _, ev := range drain(sub) {
			switch ev.Type {
			case events.StateTransition:
				transitions = append(transitions, ev)
			case events.StateUpdated:
				updated[ev.Field]++
			}
		}
		Expect(transitions).To(HaveLen(5))
		for _, ev := range transitions {
			Expect(domain.CanTransition(ev.FromStatus, ev.ToStatus)).To(BeTrue(), "%s -> %s", ev.FromStatus, ev.ToStatus)
		}
		Expect(transitions[len(transitions)-1].ToStatus).To(Equal(domain.StatusCompleted))
		Expect(updated).To(HaveKeyWithValue("extractedClaim", 1))
		Expect(updated).To(HaveKeyWithValue("validationResult", 1))
		Expect(updated).To(HaveKeyWithValue("adjudicationResult", 1))
	})

	It("keeps the review queue in step with pending_review", func() {
		byMember := func(in ScoreInput) float64 {
			var v domain.ClaimExtraction
			if json.Unmarshal(in.Extracted, &v) == nil && v.MemberID != nil && *v.MemberID == "M-2" {
				return 0.95
			}
			return 0.2
		}
		h = newHarness(GinkgoT(), happyStages(), state.DefaultConfig(), WithScorer(byMember))
		for _, id := range []string{"CLM-A", "CLM-B"} {
			h.seed(GinkgoT(), id)
			_, err := h.orch.ProcessClaim(ctx, id)
			Expect(err).ToNot(HaveOccurred())
		}

		items, err := h.queue.List(ctx, review.Filter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(items).To(HaveLen(2))

		By("correcting one claim on review")
		_, err = h.orch.SubmitReview(ctx, "CLM-A", ReviewSubmission{
			Decision:    domain.ReviewDecisionCorrect,
			Corrections: json.RawMessage(`{"member_id":"M-2"}`),
		})
		Expect(err).ToNot(HaveOccurred())

		items, err = h.queue.List(ctx, review.Filter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].ClaimID).To(Equal("CLM-B"))

		st, err := h.states.GetState(ctx, "CLM-A")
		Expect(err).ToNot(HaveOccurred())
		Expect(st.Record.Status).To(Equal(domain.StatusCompleted))
		Expect(string(st.ExtractedClaim)).To(ContainSubstring(`"member_id":"M-2"`))
	})
})
