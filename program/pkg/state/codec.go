package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DiscriminatorSize is the length of the type tag prefixing every record.
const DiscriminatorSize = 8

// Discriminator is the type tag of a persisted record.
type Discriminator [DiscriminatorSize]byte

func newDiscriminator(name string) Discriminator {
	sum := sha256.Sum256([]byte("account:" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

var (
	RoundDiscriminator        = newDiscriminator("Round")
	ParticipantDiscriminator  = newDiscriminator("Participant")
	DegenClaimDiscriminator   = newDiscriminator("DegenClaim")
	ConfigDiscriminator       = newDiscriminator("Config")
	DegenConfigDiscriminator  = newDiscriminator("DegenConfig")
	TokenAccountDiscriminator = newDiscriminator("TokenAccount")
)

// Encoded sizes, discriminator included.
const (
	RoundSize = DiscriminatorSize + 8 + 1 + 1 + 3*8 + 8 + 8 + 2 +
		MaxParticipants*32 + (MaxParticipants+1)*8 +
		32 + 8 + 32 + 8 + 32 + 32 + 1
	ParticipantSize  = DiscriminatorSize + 32 + 32 + 2 + 8 + 8 + 4
	DegenClaimSize   = DiscriminatorSize + 32 + 32 + 8 + 1 + 4 + 1 + 1 + 2 + 32 + 32 + 32 + 4*8 + 8 + 8 + 32 + 32 + 32 + 8
	ConfigSize       = DiscriminatorSize + 4*32 + 2 + 8 + 8 + 2 + 8 + 1
	DegenConfigSize  = DiscriminatorSize + 32 + 8 + 1
	TokenAccountSize = DiscriminatorSize + 32 + 32 + 8
)

var ErrMalformedRecord = errors.New("malformed record")

var le = binary.LittleEndian

// Peek returns the discriminator of an encoded record.
func Peek(data []byte) (Discriminator, error) {
	var d Discriminator
	if len(data) < DiscriminatorSize {
		return d, fmt.Errorf("%w: %d bytes", ErrMalformedRecord, len(data))
	}
	copy(d[:], data)
	return d, nil
}

// writer wraps a borsh encoder and keeps the first error.
type writer struct {
	buf bytes.Buffer
	enc *bin.Encoder
	err error
}

func newWriter(d Discriminator, size int) *writer {
	w := &writer{}
	w.buf.Grow(size)
	w.enc = bin.NewBorshEncoder(&w.buf)
	w.raw(d[:])
	return w
}

func (w *writer) raw(b []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(b, false)
	}
}

func (w *writer) key(k solana.PublicKey) { w.raw(k[:]) }

func (w *writer) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) u16(v uint16) {
	if w.err == nil {
		w.err = w.enc.WriteUint16(v, le)
	}
}

func (w *writer) u32(v uint32) {
	if w.err == nil {
		w.err = w.enc.WriteUint32(v, le)
	}
}

func (w *writer) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, le)
	}
}

func (w *writer) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, le)
	}
}

func (w *writer) finish(size int) ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.buf.Len() != size {
		return nil, fmt.Errorf("encoded %d bytes, want %d", w.buf.Len(), size)
	}
	return w.buf.Bytes(), nil
}

// reader wraps a borsh decoder and keeps the first error.
type reader struct {
	dec *bin.Decoder
	err error
}

func newReader(data []byte, d Discriminator, size int) (*reader, error) {
	got, err := Peek(data)
	if err != nil {
		return nil, err
	}
	if got != d {
		return nil, fmt.Errorf("%w: unexpected discriminator %x", ErrMalformedRecord, got[:])
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRecord, len(data), size)
	}
	return &reader{dec: bin.NewBorshDecoder(data[DiscriminatorSize:])}, nil
}

func (r *reader) raw(dst []byte) {
	if r.err != nil {
		return
	}
	b, err := r.dec.ReadNBytes(len(dst))
	if err != nil {
		r.err = err
		return
	}
	copy(dst, b)
}

func (r *reader) key() solana.PublicKey {
	var k solana.PublicKey
	r.raw(k[:])
	return k
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

// boolean rejects anything but 0 and 1 so decode-then-encode is lossless.
func (r *reader) boolean() bool {
	v := r.u8()
	if r.err == nil && v > 1 {
		r.err = fmt.Errorf("%w: bool byte %d", ErrMalformedRecord, v)
	}
	return v == 1
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(le)
	r.err = err
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(le)
	r.err = err
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(le)
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(le)
	r.err = err
	return v
}

func (r *reader) check(what string, ok bool) {
	if r.err == nil && !ok {
		r.err = fmt.Errorf("%w: invalid %s", ErrMalformedRecord, what)
	}
}

func (r *Round) MarshalBinary() ([]byte, error) {
	w := newWriter(RoundDiscriminator, RoundSize)
	w.u64(r.RoundID)
	w.u8(uint8(r.Status))
	w.u8(uint8(r.DegenStatus))
	w.i64(r.StartTime)
	w.i64(r.EndTime)
	w.i64(r.FirstDepositTime)
	w.u64(r.TotalValue)
	w.u64(r.TotalWeight)
	w.u16(r.ParticipantCount)
	for i := range r.Participants {
		w.key(r.Participants[i])
	}
	for _, node := range r.Tree {
		w.u64(node)
	}
	w.raw(r.RandomnessSeed[:])
	w.i64(r.RandomnessRequestedAt)
	w.raw(r.Randomness[:])
	w.u64(r.WinningOffset)
	w.key(r.Winner)
	w.key(r.ReimbursementPayer)
	w.boolean(r.Reimbursed)
	return w.finish(RoundSize)
}

func (r *Round) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, RoundDiscriminator, RoundSize)
	if err != nil {
		return err
	}
	var out Round
	out.RoundID = rd.u64()
	out.Status = RoundStatus(rd.u8())
	rd.check("round status", out.Status.valid())
	out.DegenStatus = DegenStatus(rd.u8())
	rd.check("degen status", out.DegenStatus.valid())
	out.StartTime = rd.i64()
	out.EndTime = rd.i64()
	out.FirstDepositTime = rd.i64()
	out.TotalValue = rd.u64()
	out.TotalWeight = rd.u64()
	out.ParticipantCount = rd.u16()
	rd.check("participant count", out.ParticipantCount <= MaxParticipants)
	for i := range out.Participants {
		out.Participants[i] = rd.key()
	}
	for i := range out.Tree {
		out.Tree[i] = rd.u64()
	}
	rd.raw(out.RandomnessSeed[:])
	out.RandomnessRequestedAt = rd.i64()
	rd.raw(out.Randomness[:])
	out.WinningOffset = rd.u64()
	out.Winner = rd.key()
	out.ReimbursementPayer = rd.key()
	out.Reimbursed = rd.boolean()
	if rd.err != nil {
		return fmt.Errorf("failed to decode round: %w", rd.err)
	}
	*r = out
	return nil
}

func (p *Participant) MarshalBinary() ([]byte, error) {
	w := newWriter(ParticipantDiscriminator, ParticipantSize)
	w.key(p.Round)
	w.key(p.Wallet)
	w.u16(p.Index)
	w.u64(p.Weight)
	w.u64(p.Value)
	w.u32(p.Contributions)
	return w.finish(ParticipantSize)
}

func (p *Participant) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, ParticipantDiscriminator, ParticipantSize)
	if err != nil {
		return err
	}
	var out Participant
	out.Round = rd.key()
	out.Wallet = rd.key()
	out.Index = rd.u16()
	rd.check("participant index", out.Index <= MaxParticipants)
	out.Weight = rd.u64()
	out.Value = rd.u64()
	out.Contributions = rd.u32()
	if rd.err != nil {
		return fmt.Errorf("failed to decode participant: %w", rd.err)
	}
	*p = out
	return nil
}

func (c *DegenClaim) MarshalBinary() ([]byte, error) {
	w := newWriter(DegenClaimDiscriminator, DegenClaimSize)
	w.key(c.Round)
	w.key(c.Winner)
	w.u64(c.RoundID)
	w.u8(uint8(c.Status))
	w.u32(c.Generation)
	w.u8(c.Window)
	w.u8(c.Rank)
	w.u16(c.TokenIndex)
	w.key(c.TokenMint)
	w.raw(c.RandomnessSeed[:])
	w.raw(c.Randomness[:])
	w.i64(c.RequestedAt)
	w.i64(c.FulfilledAt)
	w.i64(c.ClaimedAt)
	w.i64(c.FallbackAfter)
	w.u64(c.Payout)
	w.u64(c.MinOut)
	w.raw(c.RouteHash[:])
	w.key(c.Executor)
	w.key(c.Receiver)
	w.u64(c.ReceiverPreBalance)
	return w.finish(DegenClaimSize)
}

func (c *DegenClaim) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, DegenClaimDiscriminator, DegenClaimSize)
	if err != nil {
		return err
	}
	var out DegenClaim
	out.Round = rd.key()
	out.Winner = rd.key()
	out.RoundID = rd.u64()
	out.Status = ClaimStatus(rd.u8())
	rd.check("claim status", out.Status.valid())
	out.Generation = rd.u32()
	out.Window = rd.u8()
	out.Rank = rd.u8()
	out.TokenIndex = rd.u16()
	out.TokenMint = rd.key()
	rd.raw(out.RandomnessSeed[:])
	rd.raw(out.Randomness[:])
	out.RequestedAt = rd.i64()
	out.FulfilledAt = rd.i64()
	out.ClaimedAt = rd.i64()
	out.FallbackAfter = rd.i64()
	out.Payout = rd.u64()
	out.MinOut = rd.u64()
	rd.raw(out.RouteHash[:])
	out.Executor = rd.key()
	out.Receiver = rd.key()
	out.ReceiverPreBalance = rd.u64()
	if rd.err != nil {
		return fmt.Errorf("failed to decode degen claim: %w", rd.err)
	}
	*c = out
	return nil
}

func (c *Config) MarshalBinary() ([]byte, error) {
	w := newWriter(ConfigDiscriminator, ConfigSize)
	w.key(c.Admin)
	w.key(c.Treasury)
	w.key(c.StableMint)
	w.key(c.OracleAuthority)
	w.u16(c.FeeBps)
	w.u64(c.TicketUnit)
	w.i64(c.RoundDuration)
	w.u16(c.MinParticipants)
	w.u64(c.MaxDeposit)
	w.boolean(c.Paused)
	return w.finish(ConfigSize)
}

func (c *Config) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, ConfigDiscriminator, ConfigSize)
	if err != nil {
		return err
	}
	var out Config
	out.Admin = rd.key()
	out.Treasury = rd.key()
	out.StableMint = rd.key()
	out.OracleAuthority = rd.key()
	out.FeeBps = rd.u16()
	out.TicketUnit = rd.u64()
	out.RoundDuration = rd.i64()
	out.MinParticipants = rd.u16()
	out.MaxDeposit = rd.u64()
	out.Paused = rd.boolean()
	if rd.err != nil {
		return fmt.Errorf("failed to decode config: %w", rd.err)
	}
	*c = out
	return nil
}

func (c *DegenConfig) MarshalBinary() ([]byte, error) {
	w := newWriter(DegenConfigDiscriminator, DegenConfigSize)
	w.key(c.Executor)
	w.i64(c.FallbackTimeout)
	w.boolean(c.Enabled)
	return w.finish(DegenConfigSize)
}

func (c *DegenConfig) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, DegenConfigDiscriminator, DegenConfigSize)
	if err != nil {
		return err
	}
	var out DegenConfig
	out.Executor = rd.key()
	out.FallbackTimeout = rd.i64()
	out.Enabled = rd.boolean()
	if rd.err != nil {
		return fmt.Errorf("failed to decode degen config: %w", rd.err)
	}
	*c = out
	return nil
}

func (t *TokenAccount) MarshalBinary() ([]byte, error) {
	w := newWriter(TokenAccountDiscriminator, TokenAccountSize)
	w.key(t.Mint)
	w.key(t.Owner)
	w.u64(t.Amount)
	return w.finish(TokenAccountSize)
}

func (t *TokenAccount) UnmarshalBinary(data []byte) error {
	rd, err := newReader(data, TokenAccountDiscriminator, TokenAccountSize)
	if err != nil {
		return err
	}
	var out TokenAccount
	out.Mint = rd.key()
	out.Owner = rd.key()
	out.Amount = rd.u64()
	if rd.err != nil {
		return fmt.Errorf("failed to decode token account: %w", rd.err)
	}
	*t = out
	return nil
}
