package ranker

import "github.com/gagliardetto/solana-go"

// pool is the fixed candidate table. Indices are part of the derivation
// contract: append only, under a new Generation.
var pool = [...]solana.PublicKey{
	solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),  // wSOL
	solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"), // BONK
	solana.MustPublicKeyFromBase58("JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"),  // JUP
	solana.MustPublicKeyFromBase58("EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"), // WIF
	solana.MustPublicKeyFromBase58("mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"),  // mSOL
	solana.MustPublicKeyFromBase58("jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL"),  // JTO
	solana.MustPublicKeyFromBase58("J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn"), // jitoSOL
	solana.MustPublicKeyFromBase58("HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3"), // PYTH
	solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"), // RAY
	solana.MustPublicKeyFromBase58("orcaEKTdK7LKz57vaAYr9QeNsVEPfiu6QeMU1kektZE"),  // ORCA
	solana.MustPublicKeyFromBase58("bSo13r4TkiE4KumL71LsHTPpL2euBYLFx6h9HP3piy1"),  // bSOL
	solana.MustPublicKeyFromBase58("7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"), // POPCAT
}

// PoolSize is the number of candidate mints.
const PoolSize = len(pool)

// Mint returns the mint at a candidate index.
func Mint(index uint16) (solana.PublicKey, bool) {
	if int(index) >= PoolSize {
		return solana.PublicKey{}, false
	}
	return pool[index], true
}

// IndexOf returns the candidate index of a mint.
func IndexOf(mint solana.PublicKey) (uint16, bool) {
	for i, m := range pool {
		if m == mint {
			return uint16(i), true
		}
	}
	return 0, false
}
