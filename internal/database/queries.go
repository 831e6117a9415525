/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Purchase queries
	queryInsertPurchase = `
		INSERT INTO purchases (id, transaction_id, session_id, buyer_address, status, base_amount, token_amount, submitted_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)`

	queryCheckDuplicatePurchase = `
		SELECT id FROM purchases WHERE transaction_id = ?`

	queryConfirmPurchase = `
		UPDATE purchases
		SET status = 'confirmed', confirmation_block = ?, resolved_at = ?
		WHERE transaction_id = ? AND status = 'pending'`

	queryFailPurchase = `
		UPDATE purchases
		SET status = 'failed', resolved_at = ?
		WHERE transaction_id = ? AND status = 'pending'`

	queryGetPurchaseStatus = `
		SELECT status, confirmation_block FROM purchases WHERE transaction_id = ?`

	queryListPurchases = `
		SELECT transaction_id, status, base_amount, token_amount, submitted_at, confirmation_block, resolved_at
		FROM purchases
		ORDER BY submitted_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryDeletePurchases = `DELETE FROM purchases`

	// Purchase event queries
	queryInsertPurchaseEvent = `
		INSERT INTO purchase_events (id, transaction_id, event_type, confirmation_block, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryListPurchaseEvents = `
		SELECT event_type FROM purchase_events
		WHERE transaction_id = ?
		ORDER BY created_at, rowid`

	queryDeletePurchaseEvents = `DELETE FROM purchase_events`
)
