// Package app composes the donation compliance engine into a running
// application. It wires the stores, the election-cycle calculator, the
// limit engine, the PAC tip tracker, the celebration status machine and
// the background services (session watcher, annual tip-limit reset), and
// manages their lifecycle.
//
// Business rules live in internal/app/services/; domain models in
// internal/app/domain/; persistence behind internal/app/storage/. The
// HTTP shell in internal/app/httpapi/ stays thin and trusts nothing the
// client computed.
package app
