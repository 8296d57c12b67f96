package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
)

// Sheet names the collectors read and write.
const (
	SheetTickets      = "Datos de Tickets"
	SheetCustomers    = "Datos Clientes"
	SheetMerged       = "Datos Completos"
	SheetNotFound     = "Datos no Encontrados"
	SheetMergeSummary = "Resumen Merge"
)

// ticketOutColumns is the fixed ticket column order of the merged output.
// Columns absent from the source sheet are emitted empty.
var ticketOutColumns = []string{
	"ID",
	"Tema",
	"Customer/Lead",
	"Prioridad",
	"Estado",
	"Group",
	"Tipo",
	"Asignado a",
	"Watching",
	"Labels",
	"Reporter",
	"Reporter ID",
	"Reporter type",
	"ID Cliente",
	"Incoming Customer",
	"Hide",
	"Task",
	"Estrella",
	"Creado (fecha y hora)",
	"Source",
	"Actualizado (fecha y hora)",
	"Archive",
	"Shareable",
	"Note",
	"Sub-tipo de Ticket",
	"Categoria del Cierre",
	"Promocion",
}

// customerExtraColumns are appended to each joined row.
var customerExtraColumns = []string{"Servicio usuario", "Socio", "Residencia/Urbanización"}

// MergeResult summarizes one merge pass.
type MergeResult struct {
	TicketsTotal int
	Joined       int
	NotFound     int
}

// MergeService joins the tickets sheet with the customers sheet by
// reconciled ID and rewrites the merged, not-found and summary sheets.
type MergeService struct {
	log arbor.ILogger
}

func NewMergeService() *MergeService {
	return &MergeService{log: common.GetLogger()}
}

// MergeFile opens the workbook at path, runs the merge and saves atomically.
func (s *MergeService) MergeFile(path string) (*MergeResult, error) {
	wb, err := OpenWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	result, err := s.Merge(wb)
	if err != nil {
		return nil, err
	}
	if err := wb.Save(); err != nil {
		return nil, err
	}
	return result, nil
}

// Merge runs the join on an open workbook. The caller saves.
//
// Join key per ticket, in priority order: Reporter ID when the reporter is a
// customer, then ID Cliente, then Reporter ID best-effort when the reporter
// type is unknown. Customers are keyed by reconciled ID; on duplicates the
// last row wins.
func (s *MergeService) Merge(wb *Workbook) (*MergeResult, error) {
	ticketRows, err := wb.Rows(SheetTickets)
	if err != nil {
		return nil, err
	}
	customerRows, err := wb.Rows(SheetCustomers)
	if err != nil {
		return nil, err
	}
	if len(ticketRows) == 0 {
		return nil, common.NewStructuralError("tickets_empty", fmt.Sprintf("sheet %q has no header row", SheetTickets))
	}
	if len(customerRows) == 0 {
		return nil, common.NewStructuralError("customers_empty", fmt.Sprintf("sheet %q has no header row", SheetCustomers))
	}

	tIdx := HeaderIndex(ticketRows[0])
	cIdx := HeaderIndex(customerRows[0])

	tID := tIdx[common.NormHeader("ID")]
	if tID == 0 {
		return nil, common.NewStructuralError("column_missing", fmt.Sprintf("column %q not found in %q", "ID", SheetTickets))
	}
	tReporterID := tIdx[common.NormHeader("Reporter ID")]
	tReporterType := tIdx[common.NormHeader("Reporter type")]
	tIDCliente := tIdx[common.NormHeader("ID Cliente")]
	if tReporterID == 0 && tIDCliente == 0 {
		return nil, common.NewStructuralError("join_column_missing",
			fmt.Sprintf("neither %q nor %q found in %q; at least one is needed to join", "Reporter ID", "ID Cliente", SheetTickets))
	}

	cID := cIdx[common.NormHeader("ID")]
	cSocio := cIdx[common.NormHeader("Socio")]
	cRes := cIdx[common.NormHeader("Residencia/Urbanización")]
	cServicio := cIdx[common.NormHeader("Servicio usuario")]
	if cID == 0 || cSocio == 0 || cRes == 0 {
		return nil, common.NewStructuralError("column_missing",
			fmt.Sprintf("sheet %q needs columns ID, Socio and Residencia/Urbanización", SheetCustomers))
	}

	tColIdx := make(map[string]int, len(ticketOutColumns))
	for _, name := range ticketOutColumns {
		tColIdx[name] = tIdx[common.NormHeader(name)]
	}

	type customerInfo struct {
		servicio, socio, res string
	}
	customerMap := make(map[string]customerInfo)
	customerRowByID := make(map[string]int)
	for r := 1; r < len(customerRows); r++ {
		cid := common.IDKey(cellAt(customerRows[r], cID))
		if cid == "" {
			continue
		}
		info := customerInfo{
			socio: strings.TrimSpace(cellAt(customerRows[r], cSocio)),
			res:   strings.TrimSpace(cellAt(customerRows[r], cRes)),
		}
		if cServicio > 0 {
			info.servicio = strings.TrimSpace(cellAt(customerRows[r], cServicio))
		}
		customerMap[cid] = info
		customerRowByID[cid] = r + 1
	}

	outHeader := make([]interface{}, 0, len(ticketOutColumns)+len(customerExtraColumns))
	for _, name := range ticketOutColumns {
		outHeader = append(outHeader, name)
	}
	for _, name := range customerExtraColumns {
		outHeader = append(outHeader, name)
	}
	nfHeader := outHeader[:len(ticketOutColumns)]

	var outRows, nfRows [][]interface{}

	result := &MergeResult{}
	usedReporterID := 0
	usedIDCliente := 0
	reporterCustomer := 0
	reporterAdmin := 0
	reporterOther := 0
	blankJoinID := 0

	notFoundCounts := make(map[string]int)
	var notFoundOrder []string

	ticketCells := func(r int) []interface{} {
		row := make([]interface{}, 0, len(ticketOutColumns))
		for _, name := range ticketOutColumns {
			if col := tColIdx[name]; col > 0 {
				row = append(row, cellAt(ticketRows[r], col))
			} else {
				row = append(row, "")
			}
		}
		return row
	}

	for r := 1; r < len(ticketRows); r++ {
		result.TicketsTotal++

		reporterIDVal := ""
		if tReporterID > 0 {
			reporterIDVal = common.IDKey(cellAt(ticketRows[r], tReporterID))
		}
		reporterTypeVal := ""
		if tReporterType > 0 {
			reporterTypeVal = strings.ToLower(strings.TrimSpace(cellAt(ticketRows[r], tReporterType)))
		}
		switch reporterTypeVal {
		case "customer":
			reporterCustomer++
		case "admin":
			reporterAdmin++
		case "":
		default:
			reporterOther++
		}

		idClienteVal := ""
		if tIDCliente > 0 {
			idClienteVal = common.IDKey(cellAt(ticketRows[r], tIDCliente))
		}

		joinID := ""
		switch {
		case reporterTypeVal == "customer" && reporterIDVal != "":
			joinID = reporterIDVal
			usedReporterID++
		case idClienteVal != "":
			joinID = idClienteVal
			usedIDCliente++
		case reporterIDVal != "":
			// Reporter type unknown but an ID exists; trying beats dropping.
			joinID = reporterIDVal
			usedReporterID++
		}

		if joinID == "" {
			blankJoinID++
			result.NotFound++
			if _, seen := notFoundCounts[""]; !seen {
				notFoundOrder = append(notFoundOrder, "")
			}
			notFoundCounts[""]++
			nfRows = append(nfRows, ticketCells(r))
			continue
		}

		info, ok := customerMap[joinID]
		if !ok {
			result.NotFound++
			if _, seen := notFoundCounts[joinID]; !seen {
				notFoundOrder = append(notFoundOrder, joinID)
			}
			notFoundCounts[joinID]++
			nfRows = append(nfRows, ticketCells(r))
			continue
		}

		row := ticketCells(r)
		row = append(row, info.servicio, info.socio, info.res)
		outRows = append(outRows, row)
		result.Joined++
	}

	if err := wb.WriteSheet(SheetMerged, outHeader, outRows); err != nil {
		return nil, err
	}
	if err := wb.WriteSheet(SheetNotFound, nfHeader, nfRows); err != nil {
		return nil, err
	}

	summary := [][]interface{}{
		{"Métrica", "Valor"},
		{"Tickets (filas en hoja)", len(ticketRows) - 1},
		{"Clientes (filas en hoja)", len(customerRows) - 1},
		{"Clientes (IDs únicos)", len(customerMap)},
		{"Join", "Tickets(Reporter ID/ID Cliente) -> Clientes(ID)"},
	}

	var customerIDs []int
	for k := range customerMap {
		if n, err := strconv.Atoi(k); err == nil {
			customerIDs = append(customerIDs, n)
		}
	}
	if len(customerIDs) > 0 {
		sort.Ints(customerIDs)
		summary = append(summary,
			[]interface{}{"Clientes ID min", customerIDs[0]},
			[]interface{}{"Clientes ID max", customerIDs[len(customerIDs)-1]},
		)
	}

	summary = append(summary,
		[]interface{}{"Tickets total (procesados)", result.TicketsTotal},
		[]interface{}{"Coincidencias (join)", result.Joined},
		[]interface{}{"No encontrados", result.NotFound},
		[]interface{}{"Tickets sin ID para comparar", blankJoinID},
		[]interface{}{"Join usando Reporter ID", usedReporterID},
		[]interface{}{"Join usando ID Cliente (fallback)", usedIDCliente},
	)
	if reporterCustomer > 0 || reporterAdmin > 0 || reporterOther > 0 {
		summary = append(summary,
			[]interface{}{"Reporter type = customer", reporterCustomer},
			[]interface{}{"Reporter type = admin", reporterAdmin},
			[]interface{}{"Reporter type = otros", reporterOther},
		)
	}

	summary = append(summary,
		[]interface{}{""},
		[]interface{}{"Top IDs no encontrados", "Conteo", "Ejemplo fila ticket", "Fila cliente (si existe)"},
	)

	var missingIDs []string
	for _, k := range notFoundOrder {
		if k != "" {
			missingIDs = append(missingIDs, k)
		}
	}
	sort.SliceStable(missingIDs, func(i, j int) bool {
		return notFoundCounts[missingIDs[i]] > notFoundCounts[missingIDs[j]]
	})
	if len(missingIDs) > 200 {
		missingIDs = missingIDs[:200]
	}
	for _, k := range missingIDs {
		customerRow := interface{}("")
		if r, ok := customerRowByID[k]; ok {
			customerRow = r
		}
		summary = append(summary, []interface{}{k, notFoundCounts[k], "", customerRow})
	}

	if err := wb.ReplaceSheet(SheetMergeSummary); err != nil {
		return nil, err
	}
	for i, row := range summary {
		if err := wb.SetRow(SheetMergeSummary, i+1, row); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Int("tickets", result.TicketsTotal).
		Int("joined", result.Joined).
		Int("not_found", result.NotFound).
		Msg("Merge completed")

	return result, nil
}

// cellAt returns the text of a 1-based column in a possibly ragged row.
func cellAt(row []string, col int) string {
	if col <= 0 || col > len(row) {
		return ""
	}
	return row[col-1]
}
