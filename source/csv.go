package source

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// csvDecoder builds one typed row from a CSV record; get returns the
// trimmed cell for a column name, "" when absent.
type csvDecoder[T any] func(get func(col string) string) (T, error)

const csvTimeLayout = "2006-01-02 15:04:05"

// readGzCSV streams a gzipped MIMIC distribution CSV into typed rows.
func readGzCSV[T any](path string, dec csvDecoder[T]) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReaderSize(f, 256*1024))
	if err != nil {
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(strings.ToLower(col))] = i
	}

	var rows []T
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		line++
		get := func(col string) string {
			i, ok := colIdx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		row, err := dec(get)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseI64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	// Some distributions write integer ids as "12345.0".
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseOptI64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseI64(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseI32(s string) (int32, error) {
	v, err := parseI64(s)
	return int32(v), err
}

func parseOptI32(s string) (*int32, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseI32(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptF64(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(csvTimeLayout, s)
}

func parseOptTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(csvTimeLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decodeChartEvent(get func(string) string) (ChartEvent, error) {
	var e ChartEvent
	var err error
	if e.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return e, fmt.Errorf("subject_id: %w", err)
	}
	if e.HadmID, err = parseI64(get("hadm_id")); err != nil {
		return e, fmt.Errorf("hadm_id: %w", err)
	}
	if e.StayID, err = parseI64(get("stay_id")); err != nil {
		return e, fmt.Errorf("stay_id: %w", err)
	}
	if e.ChartTime, err = parseTime(get("charttime")); err != nil {
		return e, fmt.Errorf("charttime: %w", err)
	}
	if e.StoreTime, err = parseOptTime(get("storetime")); err != nil {
		return e, fmt.Errorf("storetime: %w", err)
	}
	if e.ItemID, err = parseI64(get("itemid")); err != nil {
		return e, fmt.Errorf("itemid: %w", err)
	}
	e.Value = optStr(get("value"))
	if e.ValueNum, err = parseOptF64(get("valuenum")); err != nil {
		return e, fmt.Errorf("valuenum: %w", err)
	}
	e.ValueUOM = optStr(get("valueuom"))
	if e.Warning, err = parseOptI32(get("warning")); err != nil {
		return e, fmt.Errorf("warning: %w", err)
	}
	return e, nil
}

func decodeProcedureEvent(get func(string) string) (ProcedureEvent, error) {
	var e ProcedureEvent
	var err error
	if e.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return e, fmt.Errorf("subject_id: %w", err)
	}
	if e.HadmID, err = parseI64(get("hadm_id")); err != nil {
		return e, fmt.Errorf("hadm_id: %w", err)
	}
	if e.StayID, err = parseI64(get("stay_id")); err != nil {
		return e, fmt.Errorf("stay_id: %w", err)
	}
	if e.StartTime, err = parseTime(get("starttime")); err != nil {
		return e, fmt.Errorf("starttime: %w", err)
	}
	if e.EndTime, err = parseOptTime(get("endtime")); err != nil {
		return e, fmt.Errorf("endtime: %w", err)
	}
	if e.StoreTime, err = parseOptTime(get("storetime")); err != nil {
		return e, fmt.Errorf("storetime: %w", err)
	}
	if e.ItemID, err = parseI64(get("itemid")); err != nil {
		return e, fmt.Errorf("itemid: %w", err)
	}
	if e.Value, err = parseOptF64(get("value")); err != nil {
		return e, fmt.Errorf("value: %w", err)
	}
	e.ValueUOM = optStr(get("valueuom"))
	return e, nil
}

func decodeLabEvent(get func(string) string) (LabEvent, error) {
	var e LabEvent
	var err error
	if e.LabEventID, err = parseI64(get("labevent_id")); err != nil {
		return e, fmt.Errorf("labevent_id: %w", err)
	}
	if e.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return e, fmt.Errorf("subject_id: %w", err)
	}
	if e.HadmID, err = parseOptI64(get("hadm_id")); err != nil {
		return e, fmt.Errorf("hadm_id: %w", err)
	}
	if e.SpecimenID, err = parseI64(get("specimen_id")); err != nil {
		return e, fmt.Errorf("specimen_id: %w", err)
	}
	if e.ItemID, err = parseI64(get("itemid")); err != nil {
		return e, fmt.Errorf("itemid: %w", err)
	}
	if e.ChartTime, err = parseTime(get("charttime")); err != nil {
		return e, fmt.Errorf("charttime: %w", err)
	}
	if e.StoreTime, err = parseOptTime(get("storetime")); err != nil {
		return e, fmt.Errorf("storetime: %w", err)
	}
	e.Value = optStr(get("value"))
	if e.ValueNum, err = parseOptF64(get("valuenum")); err != nil {
		return e, fmt.Errorf("valuenum: %w", err)
	}
	e.ValueUOM = optStr(get("valueuom"))
	e.Flag = optStr(get("flag"))
	e.Priority = optStr(get("priority"))
	return e, nil
}

func decodeInputEvent(get func(string) string) (InputEvent, error) {
	var e InputEvent
	var err error
	if e.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return e, fmt.Errorf("subject_id: %w", err)
	}
	if e.HadmID, err = parseI64(get("hadm_id")); err != nil {
		return e, fmt.Errorf("hadm_id: %w", err)
	}
	if e.StayID, err = parseI64(get("stay_id")); err != nil {
		return e, fmt.Errorf("stay_id: %w", err)
	}
	if e.StartTime, err = parseTime(get("starttime")); err != nil {
		return e, fmt.Errorf("starttime: %w", err)
	}
	if e.EndTime, err = parseTime(get("endtime")); err != nil {
		return e, fmt.Errorf("endtime: %w", err)
	}
	if e.StoreTime, err = parseOptTime(get("storetime")); err != nil {
		return e, fmt.Errorf("storetime: %w", err)
	}
	if e.ItemID, err = parseI64(get("itemid")); err != nil {
		return e, fmt.Errorf("itemid: %w", err)
	}
	if e.Amount, err = parseOptF64(get("amount")); err != nil {
		return e, fmt.Errorf("amount: %w", err)
	}
	e.AmountUOM = optStr(get("amountuom"))
	if e.Rate, err = parseOptF64(get("rate")); err != nil {
		return e, fmt.Errorf("rate: %w", err)
	}
	e.RateUOM = optStr(get("rateuom"))
	if e.OrderID, err = parseI64(get("orderid")); err != nil {
		return e, fmt.Errorf("orderid: %w", err)
	}
	if e.LinkOrderID, err = parseI64(get("linkorderid")); err != nil {
		return e, fmt.Errorf("linkorderid: %w", err)
	}
	e.OrderCategoryName = get("ordercategoryname")
	e.OrderCategoryDescription = get("ordercategorydescription")
	e.StatusDescription = get("statusdescription")
	if e.TotalAmount, err = parseOptF64(get("totalamount")); err != nil {
		return e, fmt.Errorf("totalamount: %w", err)
	}
	e.TotalAmountUOM = optStr(get("totalamountuom"))
	if e.OriginalAmount, err = parseOptF64(get("originalamount")); err != nil {
		return e, fmt.Errorf("originalamount: %w", err)
	}
	if e.OriginalRate, err = parseOptF64(get("originalrate")); err != nil {
		return e, fmt.Errorf("originalrate: %w", err)
	}
	return e, nil
}

func decodeAdmission(get func(string) string) (Admission, error) {
	var a Admission
	var err error
	if a.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return a, fmt.Errorf("subject_id: %w", err)
	}
	if a.HadmID, err = parseI64(get("hadm_id")); err != nil {
		return a, fmt.Errorf("hadm_id: %w", err)
	}
	if a.AdmitTime, err = parseTime(get("admittime")); err != nil {
		return a, fmt.Errorf("admittime: %w", err)
	}
	if a.DischTime, err = parseOptTime(get("dischtime")); err != nil {
		return a, fmt.Errorf("dischtime: %w", err)
	}
	if a.DeathTime, err = parseOptTime(get("deathtime")); err != nil {
		return a, fmt.Errorf("deathtime: %w", err)
	}
	a.AdmissionType = get("admission_type")
	a.AdmissionLocation = optStr(get("admission_location"))
	a.DischargeLocation = optStr(get("discharge_location"))
	a.Insurance = optStr(get("insurance"))
	a.Language = optStr(get("language"))
	a.MaritalStatus = optStr(get("marital_status"))
	a.Race = optStr(get("race"))
	if a.HospitalExpire, err = parseOptI32(get("hospital_expire_flag")); err != nil {
		return a, fmt.Errorf("hospital_expire_flag: %w", err)
	}
	return a, nil
}

func decodePatient(get func(string) string) (Patient, error) {
	var p Patient
	var err error
	if p.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return p, fmt.Errorf("subject_id: %w", err)
	}
	p.Gender = get("gender")
	if p.AnchorAge, err = parseI32(get("anchor_age")); err != nil {
		return p, fmt.Errorf("anchor_age: %w", err)
	}
	if p.AnchorYear, err = parseI32(get("anchor_year")); err != nil {
		return p, fmt.Errorf("anchor_year: %w", err)
	}
	p.AnchorYearGroup = get("anchor_year_group")
	if p.DOD, err = parseOptTime(get("dod")); err != nil {
		// dod is a bare date in the distribution.
		if d, derr := time.Parse("2006-01-02", get("dod")); derr == nil {
			p.DOD = &d
		} else {
			return p, fmt.Errorf("dod: %w", err)
		}
	}
	return p, nil
}

func decodeTransfer(get func(string) string) (Transfer, error) {
	var t Transfer
	var err error
	if t.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return t, fmt.Errorf("subject_id: %w", err)
	}
	if t.HadmID, err = parseOptI64(get("hadm_id")); err != nil {
		return t, fmt.Errorf("hadm_id: %w", err)
	}
	if t.TransferID, err = parseI64(get("transfer_id")); err != nil {
		return t, fmt.Errorf("transfer_id: %w", err)
	}
	t.EventType = get("eventtype")
	t.CareUnit = optStr(get("careunit"))
	if t.InTime, err = parseTime(get("intime")); err != nil {
		return t, fmt.Errorf("intime: %w", err)
	}
	if t.OutTime, err = parseOptTime(get("outtime")); err != nil {
		return t, fmt.Errorf("outtime: %w", err)
	}
	return t, nil
}

func decodeICUStay(get func(string) string) (ICUStay, error) {
	var s ICUStay
	var err error
	if s.SubjectID, err = parseI64(get("subject_id")); err != nil {
		return s, fmt.Errorf("subject_id: %w", err)
	}
	if s.HadmID, err = parseI64(get("hadm_id")); err != nil {
		return s, fmt.Errorf("hadm_id: %w", err)
	}
	if s.StayID, err = parseI64(get("stay_id")); err != nil {
		return s, fmt.Errorf("stay_id: %w", err)
	}
	s.FirstCareUnit = get("first_careunit")
	s.LastCareUnit = get("last_careunit")
	if s.InTime, err = parseTime(get("intime")); err != nil {
		return s, fmt.Errorf("intime: %w", err)
	}
	if s.OutTime, err = parseOptTime(get("outtime")); err != nil {
		return s, fmt.Errorf("outtime: %w", err)
	}
	if s.LOS, err = parseOptF64(get("los")); err != nil {
		return s, fmt.Errorf("los: %w", err)
	}
	return s, nil
}

func decodeDItem(get func(string) string) (DItem, error) {
	var d DItem
	var err error
	if d.ItemID, err = parseI64(get("itemid")); err != nil {
		return d, fmt.Errorf("itemid: %w", err)
	}
	d.Label = get("label")
	d.Abbreviation = optStr(get("abbreviation"))
	d.LinksTo = get("linksto")
	d.Category = optStr(get("category"))
	d.UnitName = optStr(get("unitname"))
	d.ParamType = optStr(get("param_type"))
	return d, nil
}
