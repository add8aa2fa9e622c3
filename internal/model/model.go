// Package model holds the data shapes shared by the block builder's request
// intake, proposal, and signature-aggregation subsystems. Everything here is
// immutable once constructed except ProposingBlockState, which the
// signature collector mutates in place.
package model

import (
	"bytes"
	"encoding/json"
	"sort"
)

// NumSendersInBlock is the fixed number of sender slots in every block,
// real or dummy-padded.
const NumSendersInBlock = 128

// TxTreeHeight is the height of the Merkle tree built over the padded tx
// list; 2^TxTreeHeight == NumSendersInBlock.
const TxTreeHeight = 7

// PubKey is a 256-bit field element, stored big-endian so that byte-wise
// comparison matches numeric comparison.
type PubKey [32]byte

// DummyPubKey is the sentinel used to pad a sender list out to
// NumSendersInBlock. It is the maximum possible PubKey value so that it
// always sorts first in the descending sort BlockAssembler performs,
// pushing real senders toward the tail of the sorted list.
var DummyPubKey = PubKey{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// DummyAccountID is the account id every dummy pubkey carries.
const DummyAccountID uint64 = 1

// IsDummy reports whether p is the padding sentinel.
func (p PubKey) IsDummy() bool { return p == DummyPubKey }

// Less orders pubkeys for the ascending sort.Slice comparator; BlockAssembler
// sorts descending, so callers invert this.
func (p PubKey) Less(other PubKey) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

func (p PubKey) String() string { return hexString(p[:]) }

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hexdigits[c>>4]
		out[2+i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

// Digest32 is a 32-byte domain hash (tx_tree_root, pubkey_hash, ...).
type Digest32 [32]byte

// Tx is the payload a sender commits to: the root of their transfer tree
// plus the nonce they're spending at.
type Tx struct {
	TransferTreeRoot Digest32
	Nonce            uint64
}

// FeeProof is an externally verifiable bundle proving the sender locked a
// fee transfer. Its internal shape is opaque to the core; Validate is the
// only capability the core relies on, and its algorithm is intentionally
// left to the injected FeeValidator (see storage.Config).
type FeeProof struct {
	Payload json.RawMessage
}

// FeeValidator validates a FeeProof against the configured beneficiary.
// Implementations talk to the store-vault service and fee-proof ZK
// verification primitives, both out of this module's scope.
type FeeValidator interface {
	Validate(proof *FeeProof, sender PubKey, beneficiary PubKey) error
}

// TxRequest is a single sender's submission to be included in the next
// block of its category.
type TxRequest struct {
	RequestID string
	PubKey    PubKey
	AccountID *uint64 // nil unless the sender already has an on-chain account
	Tx        Tx
	FeeProof  *FeeProof
}

// DummyTxRequest returns the padding request used to fill a block's sender
// list out to NumSendersInBlock: DummyPubKey, account id DummyAccountID,
// and a zero Tx.
func DummyTxRequest() TxRequest {
	id := DummyAccountID
	return TxRequest{
		PubKey:    DummyPubKey,
		AccountID: &id,
	}
}

// BlockProposal is what a sender receives back once their request has been
// assembled into a block.
type BlockProposal struct {
	TxTreeRoot Digest32
	Expiry     uint64
	TxIndex    uint32
	MerkleProof [][]byte
	PubKeys     []PubKey
	PubKeyHash  Digest32
}

// ProposalMemo is BlockAssembler's output: the full padded sender list, the
// tx tree built over it, and one BlockProposal per original (non-dummy)
// request.
type ProposalMemo struct {
	IsRegistrationBlock bool
	Expiry              uint64
	PubKeys             []PubKey // sorted descending, length NumSendersInBlock
	PubKeyHash          Digest32
	TxTreeRoot          Digest32
	TxRequests          []TxRequest // original, unsorted, no dummies
	Proposals           []BlockProposal
}

// CanonicalMessage returns the message this memo's signatures are verified
// against, given the memo's account_id_hash (nil/zero for registration
// blocks, where account ids don't exist yet).
func (m *ProposalMemo) CanonicalMessage(accountIDHash Digest32) []byte {
	return CanonicalMessage(m.TxTreeRoot, m.PubKeyHash, accountIDHash, m.Expiry)
}

// GetProposal returns the proposal matching (pubkey, tx) if the memo holds
// a request for it.
func (m *ProposalMemo) GetProposal(pubkey PubKey, tx Tx) (BlockProposal, bool) {
	for i, r := range m.TxRequests {
		if r.PubKey == pubkey && r.Tx == tx {
			return m.Proposals[i], true
		}
	}
	return BlockProposal{}, false
}

// accountID returns the account id the memo associates with pubkey: 1 for
// the dummy sentinel, the sender's recorded id otherwise.
func (m *ProposalMemo) accountID(pubkey PubKey) (uint64, bool) {
	if pubkey.IsDummy() {
		return DummyAccountID, true
	}
	for _, r := range m.TxRequests {
		if r.PubKey == pubkey {
			if r.AccountID == nil {
				return 0, false
			}
			return *r.AccountID, true
		}
	}
	return 0, false
}

// AccountIDs packs the account ids of m.PubKeys in sender-list order, for
// non-registration blocks. Registration blocks return nil: the account ids
// don't exist yet.
func (m *ProposalMemo) AccountIDs() (AccountIDPacked, bool) {
	if m.IsRegistrationBlock {
		return nil, false
	}
	ids := make(AccountIDPacked, len(m.PubKeys))
	for i, pk := range m.PubKeys {
		id, ok := m.accountID(pk)
		if !ok {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// AccountIDPacked is the account-id list in sender-list order, ready to be
// packed into calldata bytes for post_non_registration_block.
type AccountIDPacked []uint64

// Bytes packs each id as an 8-byte big-endian word. The real rollup
// contract packs ids more tightly (five bytes, since ids never exceed
// 2^40); this module isn't bound to that wire format, so it uses the
// simpler fixed-width packing throughout.
func (a AccountIDPacked) Bytes() []byte {
	out := make([]byte, len(a)*8)
	for i, id := range a {
		putUint64(out[i*8:i*8+8], id)
	}
	return out
}

// TrimmedBytes packs only the last numReal ids. DummyPubKey is the largest
// pubkey, so in the descending sender order the dummy slots come first and
// the numReal real senders occupy the tail of the list; position, not
// value, marks a dummy, hence the caller-supplied count.
func (a AccountIDPacked) TrimmedBytes(numReal int) []byte {
	if numReal > len(a) {
		numReal = len(a)
	}
	return a[len(a)-numReal:].Bytes()
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// UserSignature is a BLS signature a sender posts back over a proposal.
type UserSignature struct {
	PubKey    PubKey
	Signature [96]byte // compressed BLS12-381 G2 point
}

// CompressPubKey reinterprets a PubKey (a 256-bit field element) as the
// compressed-G1 byte form internal/bls deals in, right-aligned into the
// wider BLS encoding. Request intake and signature aggregation share one
// identity space end to end; see DESIGN.md for why this module does not
// carry a second, BLS-specific key encoding. The result never has the
// compression flag bit set, so it is not a valid compressed G1 point:
// bls.Verify and bls.AggregatePublicKeys reject it with ErrInvalidPublicKey.
func CompressPubKey(pk PubKey) [48]byte {
	var out [48]byte
	copy(out[16:], pk[:])
	return out
}

// CanonicalMessage builds the exact byte sequence every sender signature,
// and the block's aggregate signature, is computed over: tx_tree_root (32
// bytes), expiry (8 bytes, big-endian), pubkey_hash (32 bytes), and
// account_id_hash (32 bytes).
func CanonicalMessage(txTreeRoot, pubKeyHash, accountIDHash Digest32, expiry uint64) []byte {
	buf := make([]byte, 0, 32+8+32+32)
	buf = append(buf, txTreeRoot[:]...)
	var expiryBuf [8]byte
	putUint64(expiryBuf[:], expiry)
	buf = append(buf, expiryBuf[:]...)
	buf = append(buf, pubKeyHash[:]...)
	buf = append(buf, accountIDHash[:]...)
	return buf
}

// ProposingBlockState is the mutable record SignatureCollector updates as
// signatures arrive for a memo that's still within its signing window.
type ProposingBlockState struct {
	Memo       *ProposalMemo
	Signatures []UserSignature
}

// AddSignature appends sig, deduplicating by pubkey (first write wins), and
// reports whether it was newly added.
func (s *ProposingBlockState) AddSignature(sig UserSignature) bool {
	for _, existing := range s.Signatures {
		if existing.PubKey == sig.PubKey {
			return false
		}
	}
	s.Signatures = append(s.Signatures, sig)
	return true
}

// BlockPostTask is the closure of a ProposingBlockState handed to the
// poster once its signing window has elapsed.
type BlockPostTask struct {
	ForcePost           bool
	IsRegistrationBlock bool
	TxTreeRoot          Digest32
	Expiry              uint64
	PubKeys             []PubKey
	AccountIDs          AccountIDPacked // nil for registration blocks
	PubKeyHash          Digest32
	Signatures          []UserSignature
}

// CanonicalMessage returns the message this task's aggregate signature is
// computed over, given the task's account_id_hash.
func (t BlockPostTask) CanonicalMessage(accountIDHash Digest32) []byte {
	return CanonicalMessage(t.TxTreeRoot, t.PubKeyHash, accountIDHash, t.Expiry)
}

// ToBlockPostTask converts a ProposingBlockState into the task the poster
// consumes. forcePost lets the caller mark synthetic empty-block tasks.
func (s *ProposingBlockState) ToBlockPostTask(forcePost bool) BlockPostTask {
	ids, _ := s.Memo.AccountIDs()
	return BlockPostTask{
		ForcePost:           forcePost,
		IsRegistrationBlock: s.Memo.IsRegistrationBlock,
		TxTreeRoot:          s.Memo.TxTreeRoot,
		Expiry:              s.Memo.Expiry,
		PubKeys:             append([]PubKey(nil), s.Memo.PubKeys...),
		AccountIDs:          ids,
		PubKeyHash:          s.Memo.PubKeyHash,
		Signatures:          append([]UserSignature(nil), s.Signatures...),
	}
}

// SortPubKeysDescending sorts pks in place, largest first.
func SortPubKeysDescending(pks []PubKey) {
	sort.Slice(pks, func(i, j int) bool { return pks[j].Less(pks[i]) })
}
