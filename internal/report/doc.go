// SPDX-License-Identifier: MPL-2.0

// Package report renders and ships deployment results: a terminal summary
// table, a JSON or YAML report file, and an AMQP notification.
package report
