// 包 record：犯罪记录数据模型与逐字段解析状态
package record

import (
	"fmt"
	"math"
)

// 文档注释：坐标（WGS84 度）
// 背景：坐标同时作为跨阶段的缓存与连接键；两个坐标相等当且仅当解析后的 float64 位模式一致。
// 约束：不做容差匹配；缺失纬度或经度时 Valid=false，且不产生键；缺失坐标的原始文本按原样保留。
type Coordinate struct {
	Lat   float64
	Lon   float64
	Valid bool

	// 缺失时保留来源的原始文本（可能只有一侧），写出时原样还原
	latText, lonText string
}

// CoordKey：坐标精确匹配键（float64 位模式）
type CoordKey struct {
	lat uint64
	lon uint64
}

// NewCoordinate：构造坐标；NaN/Inf 视为缺失
func NewCoordinate(lat, lon float64) Coordinate {
	if !finite(lat) || !finite(lon) {
		return Coordinate{}
	}
	return Coordinate{Lat: lat, Lon: lon, Valid: true}
}

// Key：返回精确匹配键；-0 折叠为 +0，与数值相等语义一致
func (c Coordinate) Key() (CoordKey, bool) {
	if !c.Valid {
		return CoordKey{}, false
	}
	return CoordKey{lat: bits(c.Lat), lon: bits(c.Lon)}, true
}

// String：键的稳定文本形式（用于外部缓存键）
func (k CoordKey) String() string { return fmt.Sprintf("%016x:%016x", k.lat, k.lon) }

func bits(v float64) uint64 {
	if v == 0 {
		return 0
	}
	return math.Float64bits(v)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// 文档注释：字段解析状态
// 背景：替代带内哨兵字符串；NotApplicable 表示从未尝试，Unresolved 表示已尝试但失败。
type Status uint8

const (
	NotApplicable Status = iota
	Unresolved
	Resolved
)

func (s Status) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	}
	return "not_applicable"
}

// UnknownValue：持久化文件中 Unresolved 的表示
const UnknownValue = "Unknown"

// Field：带状态的富化字段（区名、邮编区）
type Field struct {
	Status Status
	Value  string
}

// ResolvedField：构造已解析字段；空值或 "Unknown" 视为未解析
func ResolvedField(v string) Field {
	if v == "" || v == UnknownValue {
		return Field{Status: Unresolved}
	}
	return Field{Status: Resolved, Value: v}
}

// UnresolvedField：已尝试但未解析
func UnresolvedField() Field { return Field{Status: Unresolved} }

func (f Field) IsResolved() bool { return f.Status == Resolved }

// 文档注释：不降级合并
// 约束：已解析的值永不被覆盖；next 为已解析时写入；其余情况下若本字段从未尝试则记为未解析。
func (f Field) Improve(next Field) Field {
	switch {
	case f.Status == Resolved:
		return f
	case next.Status == Resolved:
		return next
	case f.Status == NotApplicable && next.Status == Unresolved:
		return next
	}
	return f
}

// String：持久化表示
func (f Field) String() string {
	switch f.Status {
	case Resolved:
		return f.Value
	case Unresolved:
		return UnknownValue
	}
	return ""
}

// ParseField：由持久化表示还原字段
func ParseField(s string) Field {
	switch s {
	case "":
		return Field{}
	case UnknownValue:
		return Field{Status: Unresolved}
	}
	return Field{Status: Resolved, Value: s}
}

// 文档注释：子区域（LSOA）归属状态
// 背景：原始数据以 LSOA name 列携带边界核验进度；此处显式建模，持久化时仍写回兼容的标签。
type AreaStatus uint8

const (
	AreaNone AreaStatus = iota
	AreaUnspecified
	AreaImputed
	AreaVerified
	AreaMatched
	AreaUnmatched
)

const (
	UnmatchedCode   = "E01000000"
	UnmatchedName   = "Leeds (Unmatched)"
	UnspecifiedName = "Leeds (Unspecified)"
	ImputedName     = "Leeds (Imputed from Grid)"
	VerifiedName    = "Leeds (Verified)"
)

type Area struct {
	Status AreaStatus
	Code   string
	Name   string
}

// MatchedArea：命中多边形
func MatchedArea(code, name string) Area { return Area{Status: AreaMatched, Code: code, Name: name} }

// UnmatchedArea：未命中任何多边形的稳定哨兵
func UnmatchedArea() Area {
	return Area{Status: AreaUnmatched, Code: UnmatchedCode, Name: UnmatchedName}
}

// Assigned：已完成子区域归属（含未命中哨兵）
func (a Area) Assigned() bool { return a.Status == AreaMatched || a.Status == AreaUnmatched }

// PendingVerification：尚未经过边界核验的记录
func (a Area) PendingVerification() bool {
	return a.Status == AreaUnspecified || a.Status == AreaImputed
}

// Columns：持久化的 (LSOA code, LSOA name)
func (a Area) Columns() (string, string) {
	switch a.Status {
	case AreaUnspecified:
		return a.Code, UnspecifiedName
	case AreaImputed:
		return a.Code, ImputedName
	case AreaVerified:
		return a.Code, VerifiedName
	case AreaUnmatched:
		return UnmatchedCode, UnmatchedName
	case AreaMatched:
		return a.Code, a.Name
	}
	return "", ""
}

// ParseArea：由持久化列还原归属状态
func ParseArea(code, name string) Area {
	switch name {
	case UnspecifiedName:
		return Area{Status: AreaUnspecified, Code: code}
	case ImputedName:
		return Area{Status: AreaImputed, Code: code}
	case VerifiedName:
		return Area{Status: AreaVerified, Code: code}
	case UnmatchedName:
		return UnmatchedArea()
	}
	if code == "" && name == "" {
		return Area{}
	}
	return MatchedArea(code, name)
}

// ReportingForce：报告机构（固定常量）
const ReportingForce = "West Yorkshire Police"

// 文档注释：犯罪记录
// 约束：CrimeID 为空表示缺少自然键；可空文本字段以空串表示缺失；结构体可直接比较。
type Record struct {
	CrimeID     string
	Month       string
	ReportedBy  string
	FallsWithin string
	Coord       Coordinate
	Location    string
	Area        Area
	CrimeType   string
	LastOutcome string
	Context     string
	Ward        Field
	Postcode    Field
}

func (r Record) HasID() bool { return r.CrimeID != "" }

// NeedsGeocode：区名或邮编区任一未解析
func (r Record) NeedsGeocode() bool { return !r.Ward.IsResolved() || !r.Postcode.IsResolved() }
