package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"splynx-collector/internal/common"
)

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Cliente: Juan Pérez", firstLine("\n  \nCliente: Juan Pérez\nID 135921"))
	assert.Equal(t, "solo", firstLine("solo"))
	assert.Equal(t, "", firstLine("\n \n"))
}

func TestScoreClientRowPrefersProfile(t *testing.T) {
	profile := scoreClientRow(
		common.NormText("Cliente: Juan Pérez (ID 135921)"),
		common.NormText("Cliente: Juan Pérez (ID 135921) activo"),
	)
	service := scoreClientRow(
		common.NormText("Servicio de Internet 135921"),
		common.NormText("Servicio de Internet 135921 plan 100M"),
	)
	invoice := scoreClientRow(
		common.NormText("Invoice #135921"),
		common.NormText("Invoice #135921 pendiente"),
	)

	assert.Greater(t, profile, service)
	assert.Greater(t, profile, invoice)
	assert.Less(t, service, 10)
}

func TestScoreTicketRowPrefersTicket(t *testing.T) {
	ticket := scoreTicketRow(
		common.NormText("Ticket #135921 Sin internet"),
		common.NormText("Ticket #135921 Sin internet abierto"),
	)
	client := scoreTicketRow(
		common.NormText("Cliente: Juan Pérez"),
		common.NormText("Cliente: Juan Pérez ID 135921"),
	)
	payment := scoreTicketRow(
		common.NormText("Pago recibido 135921"),
		common.NormText("Pago recibido 135921"),
	)

	assert.Greater(t, ticket, client)
	assert.Greater(t, ticket, payment)
}

func TestExactIDPattern(t *testing.T) {
	re := exactIDPattern("313118")

	assert.True(t, re.MatchString("Ticket 313118 abierto"))
	assert.True(t, re.MatchString("313118"))
	assert.True(t, re.MatchString("id=313118&x=1"))
	// Never inside a longer number.
	assert.False(t, re.MatchString("2313118"))
	assert.False(t, re.MatchString("3131189"))
}

func TestHrefIDRe(t *testing.T) {
	m := hrefIDRe.FindStringSubmatch("/admin/support/tickets/view?id=313118&tab=1")
	assert.NotNil(t, m)
	assert.Equal(t, "313118", m[1])

	assert.Nil(t, hrefIDRe.FindStringSubmatch("/admin/support/tickets/list"))
}
