package ledger_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
)

func TestLedger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Hash-Chained Ledger Suite")
}

func tempLedgerPath() string {
	return filepath.Join(GinkgoT().TempDir(), "ledger.bin")
}

func entry(key, value string) ledger.PayloadEntry {
	e, err := ledger.NewPayloadEntry(key, value)
	Expect(err).NotTo(HaveOccurred())
	return e
}

// signerSet holds three ed25519 keypairs, one per required signer kind,
// plus the Registry built from their public keys, for tests that need
// a satisfiable RESULT_FINALIZED signature policy.
type signerSet struct {
	aiPriv, humanPriv, adminPriv ed25519.PrivateKey
	registry                     *ledger.Registry
}

func newSignerSet() signerSet {
	aiPub, aiPriv, _ := ed25519.GenerateKey(nil)
	humanPub, humanPriv, _ := ed25519.GenerateKey(nil)
	adminPub, adminPriv, _ := ed25519.GenerateKey(nil)

	entries := map[string]string{}
	for kind, pub := range map[ledger.SignerKind]ed25519.PublicKey{
		ledger.SignerAIVerifier:      aiPub,
		ledger.SignerHumanVerifier:   humanPub,
		ledger.SignerAdminController: adminPub,
	} {
		id, hexKey := registryEntry(kind, pub)
		entries[id] = hexKey
	}

	registry, err := ledger.NewRegistry(entries)
	Expect(err).NotTo(HaveOccurred())

	return signerSet{aiPriv: aiPriv, humanPriv: humanPriv, adminPriv: adminPriv, registry: registry}
}

// registryEntry mirrors the "kind:hexKey" convention Registry expects,
// without reaching into the unexported registryID helper.
func registryEntry(kind ledger.SignerKind, pub ed25519.PublicKey) (id, hexKey string) {
	hexKey = hexEncode(pub)
	return string(kind) + ":" + hexKey, hexKey
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

var _ = Describe("Chain", func() {
	var (
		path string
		cfg  ledger.Config
	)

	BeforeEach(func() {
		path = tempLedgerPath()
		cfg = ledger.Config{Path: path, DifficultyHexZeros: 1, MaxMiningAttempts: 2_000_000}
	})

	Describe("Append", func() {
		It("appends a genesis block with the zero prev_hash at index 0", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			b, err := chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Index).To(Equal(int64(0)))
			Expect(b.PrevHash).To(Equal(ledger.ZeroHash))
			Expect(b.SelfHash).NotTo(BeEmpty())
		})

		It("links each new block to the previous block's self_hash", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			b0, err := chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())

			b1, err := chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", "s-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())

			Expect(b1.Index).To(Equal(int64(1)))
			Expect(b1.PrevHash).To(Equal(b0.SelfHash))
		})

		It("persists blocks so a reopened chain replays the same head", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())
			want, err := chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", "s-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(chain.Close()).To(Succeed())

			reopened, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			Expect(reopened.Len()).To(Equal(int64(2)))
			head, ok := reopened.Head()
			Expect(ok).To(BeTrue())
			Expect(head).To(Equal(want))
		})

		It("fails with ChainStale when the caller's expected prev hash no longer matches the head", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			_, err = chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())

			_, err = chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", "s-1")}, nil, ledger.AppendOptions{ExpectedPrevHash: "stale-hash-from-a-stale-read"})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.As(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeChainStale))

			Expect(chain.Len()).To(Equal(int64(1)), "a rejected append must not land a block")
		})

		It("fails with mining_budget_exceeded detail when the attempt budget is too small", func() {
			tight := ledger.Config{Path: tempLedgerPath(), DifficultyHexZeros: 8, MaxMiningAttempts: 3}
			chain, err := ledger.Open(tight)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			_, err = chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.As(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Cause).To(MatchError(ContainSubstring("mining_budget_exceeded")))
			Expect(chain.Len()).To(Equal(int64(0)))
		})
	})

	Describe("RESULT_FINALIZED signature policy", func() {
		It("rejects a finalize with fewer than 3 distinct signer kinds", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			signers := newSignerSet()
			cfgWithRegistry := cfg
			cfgWithRegistry.Registry = signers.registry
			chain2, err := ledger.Open(cfgWithRegistry)
			Expect(err).NotTo(HaveOccurred())
			defer chain2.Close()

			payload := []ledger.PayloadEntry{entry("sheet_id", "s-1")}

			twoSigs := []ledger.Signature{
				ledger.Sign(signers.aiPriv, ledger.SignerAIVerifier, []byte("irrelevant-because-verify-fails-on-message-mismatch")),
				ledger.Sign(signers.humanPriv, ledger.SignerHumanVerifier, []byte("irrelevant-because-verify-fails-on-message-mismatch")),
			}

			_, err = chain2.Append(ledger.KindResultFinalized, payload, twoSigs, ledger.AppendOptions{})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.As(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeSignatureInsufficient))
			Expect(chain2.Len()).To(Equal(int64(0)), "an insufficiently signed finalize must append no block")
		})
	})

	Describe("Validate", func() {
		It("succeeds for a freshly appended, untampered chain", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			for i := 0; i < 5; i++ {
				_, err := chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", string(rune('a'+i)))}, nil, ledger.AppendOptions{})
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(chain.Validate()).To(Succeed())
		})

		It("fails at the first block whose bytes were tampered with on disk", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 6; i++ {
				_, err := chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", string(rune('a'+i)))}, nil, ledger.AppendOptions{})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(chain.Close()).To(Succeed())

			corruptByteInBlock5(path)

			reopened, err := ledger.Open(cfg)
			Expect(err).To(HaveOccurred())
			Expect(reopened.ReadOnly()).To(BeTrue())

			appErr, ok := apperrors.As(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeChainIntegrity))
			Expect(appErr.Message).To(ContainSubstring("at block 4"))
		})

		It("refuses further appends once the chain is read-only after a tamper detection", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 6; i++ {
				_, err := chain.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", string(rune('a'+i)))}, nil, ledger.AppendOptions{})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(chain.Close()).To(Succeed())

			corruptByteInBlock5(path)

			reopened, err := ledger.Open(cfg)
			Expect(err).To(HaveOccurred())
			Expect(reopened.ReadOnly()).To(BeTrue())

			_, err = reopened.Append(ledger.KindSheetIngested, []ledger.PayloadEntry{entry("sheet_id", "z")}, nil, ledger.AppendOptions{})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.As(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeChainIntegrity))
		})
	})

	Describe("GetByHash and GetByIndex", func() {
		It("finds a block by either key after append", func() {
			chain, err := ledger.Open(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer chain.Close()

			b, err := chain.Append(ledger.KindQuestionPaperUpload, []ledger.PayloadEntry{entry("paper_id", "p-1")}, nil, ledger.AppendOptions{})
			Expect(err).NotTo(HaveOccurred())

			byIndex, ok := chain.GetByIndex(0)
			Expect(ok).To(BeTrue())
			Expect(byIndex).To(Equal(b))

			byHash, ok := chain.GetByHash(b.SelfHash)
			Expect(ok).To(BeTrue())
			Expect(byHash).To(Equal(b))

			_, ok = chain.GetByIndex(99)
			Expect(ok).To(BeFalse())
			_, ok = chain.GetByHash("does-not-exist")
			Expect(ok).To(BeFalse())
		})
	})
})

// corruptByteInBlock5 flips a byte inside the 5th record's JSON body
// (zero-indexed block 4) by walking the ledger file's raw records and
// mutating one hex character of that record's merkle_root, not a length
// prefix or trailer, so the record still parses as JSON but with
// different content -- simulating bit rot or a malicious edit rather
// than a torn write.
func corruptByteInBlock5(path string) {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())

	// Each record is a 4-byte big-endian body length, the JSON body, and
	// a 64-byte hex self_hash trailer; skip the first four records.
	offset := 0
	for i := 0; i < 4; i++ {
		offset += 4 + int(binary.BigEndian.Uint32(data[offset:offset+4])) + 64
	}
	bodyStart := offset + 4
	body := data[bodyStart : bodyStart+int(binary.BigEndian.Uint32(data[offset:offset+4]))]
	marker := []byte(`"merkle_root":"`)
	at := bytes.Index(body, marker)
	Expect(at).To(BeNumerically(">=", 0))
	idx := bodyStart + at + len(marker)
	if data[idx] == 'a' {
		data[idx] = 'b'
	} else {
		data[idx] = 'a'
	}

	Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
}
