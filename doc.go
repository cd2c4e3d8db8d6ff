// Project Structure Overview
/*
farmtrace-backend/
├── cmd/
│   ├── server/          HTTP API
│   └── farmtracectl/    operator CLI (settlement sweeps, expiry, tokens)
├── internal/
│   ├── app/             backend selection and service wiring
│   ├── canonhash/       canonical JSON hashing
│   ├── config/
│   ├── database/        connection pool and migrations
│   ├── errs/            failure kinds and bounded retry
│   ├── handlers/
│   ├── i18n/            en and sw locales
│   ├── ledger/          memory and Hedera consensus backends
│   ├── middleware/
│   ├── models/
│   ├── payment/         M-Pesa Daraja, simulated rail, Stripe cards
│   ├── repository/      gorm and in-memory stores
│   ├── router/
│   ├── services/
│   ├── tests/           HTTP API suite
│   └── utils/
└── go.mod
*/

// Package farmtrace is the root of the produce provenance and farmer
// settlement backend. The binaries live under cmd/.
package farmtrace
