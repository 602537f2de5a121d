package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	// 金额以数字而不是字符串输出
	decimal.MarshalJSONWithoutQuotes = true
}
