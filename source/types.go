package source

import "time"

// Typed rows for the raw MIMIC-IV tables the pipeline reads. Field tags
// mirror the official column names so converted parquet files round-trip
// without renames; pointer types mark columns that are null in the wild.

// ChartEvent is one icu/chartevents row: long form, keyed by
// (encounter, item, charttime).
type ChartEvent struct {
	SubjectID int64      `parquet:"subject_id"`
	HadmID    int64      `parquet:"hadm_id"`
	StayID    int64      `parquet:"stay_id"`
	ChartTime time.Time  `parquet:"charttime,timestamp"`
	StoreTime *time.Time `parquet:"storetime,optional,timestamp"`
	ItemID    int64      `parquet:"itemid"`
	Value     *string    `parquet:"value,optional"`
	ValueNum  *float64   `parquet:"valuenum,optional"`
	ValueUOM  *string    `parquet:"valueuom,optional"`
	Warning   *int32     `parquet:"warning,optional"`
}

// ProcedureEvent is one icu/procedureevents row; the event time of
// record is starttime.
type ProcedureEvent struct {
	SubjectID int64      `parquet:"subject_id"`
	HadmID    int64      `parquet:"hadm_id"`
	StayID    int64      `parquet:"stay_id"`
	StartTime time.Time  `parquet:"starttime,timestamp"`
	EndTime   *time.Time `parquet:"endtime,optional,timestamp"`
	StoreTime *time.Time `parquet:"storetime,optional,timestamp"`
	ItemID    int64      `parquet:"itemid"`
	Value     *float64   `parquet:"value,optional"`
	ValueUOM  *string    `parquet:"valueuom,optional"`
}

// LabEvent is one hosp/labevents row: keyed by
// (encounter, item, collect time, result time).
type LabEvent struct {
	LabEventID int64      `parquet:"labevent_id"`
	SubjectID  int64      `parquet:"subject_id"`
	HadmID     *int64     `parquet:"hadm_id,optional"`
	SpecimenID int64      `parquet:"specimen_id"`
	ItemID     int64      `parquet:"itemid"`
	ChartTime  time.Time  `parquet:"charttime,timestamp"`
	StoreTime  *time.Time `parquet:"storetime,optional,timestamp"`
	Value      *string    `parquet:"value,optional"`
	ValueNum   *float64   `parquet:"valuenum,optional"`
	ValueUOM   *string    `parquet:"valueuom,optional"`
	Flag       *string    `parquet:"flag,optional"`
	Priority   *string    `parquet:"priority,optional"`
}

// InputEvent is one icu/inputevents row: a continuous or bolus infusion
// record with explicit start/end bounds.
type InputEvent struct {
	SubjectID                int64      `parquet:"subject_id"`
	HadmID                   int64      `parquet:"hadm_id"`
	StayID                   int64      `parquet:"stay_id"`
	StartTime                time.Time  `parquet:"starttime,timestamp"`
	EndTime                  time.Time  `parquet:"endtime,timestamp"`
	StoreTime                *time.Time `parquet:"storetime,optional,timestamp"`
	ItemID                   int64      `parquet:"itemid"`
	Amount                   *float64   `parquet:"amount,optional"`
	AmountUOM                *string    `parquet:"amountuom,optional"`
	Rate                     *float64   `parquet:"rate,optional"`
	RateUOM                  *string    `parquet:"rateuom,optional"`
	OrderID                  int64      `parquet:"orderid"`
	LinkOrderID              int64      `parquet:"linkorderid"`
	OrderCategoryName        string     `parquet:"ordercategoryname"`
	OrderCategoryDescription string     `parquet:"ordercategorydescription"`
	StatusDescription        string     `parquet:"statusdescription"`
	TotalAmount              *float64   `parquet:"totalamount,optional"`
	TotalAmountUOM           *string    `parquet:"totalamountuom,optional"`
	OriginalAmount           *float64   `parquet:"originalamount,optional"`
	OriginalRate             *float64   `parquet:"originalrate,optional"`
}

// Admission is one hosp/admissions row.
type Admission struct {
	SubjectID         int64      `parquet:"subject_id"`
	HadmID            int64      `parquet:"hadm_id"`
	AdmitTime         time.Time  `parquet:"admittime,timestamp"`
	DischTime         *time.Time `parquet:"dischtime,optional,timestamp"`
	DeathTime         *time.Time `parquet:"deathtime,optional,timestamp"`
	AdmissionType     string     `parquet:"admission_type"`
	AdmissionLocation *string    `parquet:"admission_location,optional"`
	DischargeLocation *string    `parquet:"discharge_location,optional"`
	Insurance         *string    `parquet:"insurance,optional"`
	Language          *string    `parquet:"language,optional"`
	MaritalStatus     *string    `parquet:"marital_status,optional"`
	Race              *string    `parquet:"race,optional"`
	HospitalExpire    *int32     `parquet:"hospital_expire_flag,optional"`
}

// Patient is one hosp/patients row. Ages are anchored, not absolute:
// anchor_age is the age in anchor_year.
type Patient struct {
	SubjectID       int64      `parquet:"subject_id"`
	Gender          string     `parquet:"gender"`
	AnchorAge       int32      `parquet:"anchor_age"`
	AnchorYear      int32      `parquet:"anchor_year"`
	AnchorYearGroup string     `parquet:"anchor_year_group"`
	DOD             *time.Time `parquet:"dod,optional,timestamp"`
}

// Transfer is one hosp/transfers row.
type Transfer struct {
	SubjectID  int64      `parquet:"subject_id"`
	HadmID     *int64     `parquet:"hadm_id,optional"`
	TransferID int64      `parquet:"transfer_id"`
	EventType  string     `parquet:"eventtype"`
	CareUnit   *string    `parquet:"careunit,optional"`
	InTime     time.Time  `parquet:"intime,timestamp"`
	OutTime    *time.Time `parquet:"outtime,optional,timestamp"`
}

// ICUStay is one icu/icustays row, linking stay_id to hadm_id.
type ICUStay struct {
	SubjectID     int64      `parquet:"subject_id"`
	HadmID        int64      `parquet:"hadm_id"`
	StayID        int64      `parquet:"stay_id"`
	FirstCareUnit string     `parquet:"first_careunit"`
	LastCareUnit  string     `parquet:"last_careunit"`
	InTime        time.Time  `parquet:"intime,timestamp"`
	OutTime       *time.Time `parquet:"outtime,optional,timestamp"`
	LOS           *float64   `parquet:"los,optional"`
}

// DItem is one icu/d_items dictionary row.
type DItem struct {
	ItemID       int64   `parquet:"itemid"`
	Label        string  `parquet:"label"`
	Abbreviation *string `parquet:"abbreviation,optional"`
	LinksTo      string  `parquet:"linksto"`
	Category     *string `parquet:"category,optional"`
	UnitName     *string `parquet:"unitname,optional"`
	ParamType    *string `parquet:"param_type,optional"`
}
