// Package testutil provides testing utilities for txmanager.
//
// This package contains test fixtures and builders for go-ethereum
// transactions and receipts that are commonly used across tests in the
// txmanager package.
//
// # Important Note on Import Cycles
//
// Mock implementations (mockNetworkClient, mockSigner, mockApprovalGateway,
// etc.) are kept in the txmanager package's test files (mocks_test.go) to
// avoid import cycles. This package only contains utilities that don't
// depend on txmanager types.
//
// # Test Fixtures
//
// Common test values are provided:
//   - TestAddr1, TestAddr2, TestAddr3: Common test addresses
//   - TestPrivateKey1, TestPrivateKeyHex, TestPrivateKey1Address: Test private keys and derived address
//   - OneEth, TwentyGwei, TwoGwei: Common value constants
//   - ChainIDMainnet, ChainIDArbitrum: Common chain IDs
//
// # Transaction Builders
//
// Helper functions for creating test transactions and receipts:
//   - NewTx: Create a simple mainnet transaction
//   - NewDynamicTx: Create a fully customized EIP-1559 transaction
//   - NewLegacyTx: Create a pre-EIP-1559 transaction
//   - NewSuccessReceipt, NewFailedReceipt: Create test receipts
package testutil
