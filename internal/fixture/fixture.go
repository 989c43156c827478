// Package fixture seeds a small, known catalog. builddb uses it for -demo
// databases and the package tests use it as their data set.
package fixture

import (
	"context"
	"database/sql"
	"fmt"
)

type building struct {
	id          int64
	title       string
	architect   string
	year        any
	prefecture  string
	city        string
	address     string
	lat, lng    float64
	category    string
	bigCategory string
	tags        string
	image       string
}

var buildings = []building{
	{1, "国立代々木競技場", "丹下健三", 1964, "東京都", "渋谷区", "東京都渋谷区神南2-1-1", 35.6678, 139.7005, "スポーツ施設", "公共", "体育館,オリンピック", "https://example.com/yoyogi.jpg"},
	{2, "東京カテドラル聖マリア大聖堂", "丹下健三", 1964, "東京都", "文京区", "東京都文京区関口3-16-15", 35.7142, 139.7274, "宗教施設", "宗教", "教会", ""},
	{3, "光の教会", "安藤忠雄", 1989, "大阪府", "茨木市", "大阪府茨木市北春日丘4-3-50", 34.8317, 135.5485, "宗教施設", "宗教", "教会,コンクリート", ""},
	{4, "住吉の長屋", "安藤忠雄", 1976, "大阪府", "大阪市", "大阪府大阪市住吉区", 34.6125, 135.4978, "住宅", "住宅", "住宅,コンクリート", ""},
	{5, "金沢21世紀美術館", "SANAA", 2004, "石川県", "金沢市", "石川県金沢市広坂1-2-1", 36.5608, 136.6583, "美術館", "文化", "美術館", ""},
	{6, "せんだいメディアテーク", "伊東豊雄", 2001, "宮城県", "仙台市", "宮城県仙台市青葉区春日町2-1", 38.2654, 140.8660, "図書館", "文化", "図書館,チューブ", ""},
	{7, "香川県庁舎", "丹下健三", 1958, "香川県", "高松市", "香川県高松市番町4-1-10", 34.3401, 134.0434, "庁舎", "公共", "庁舎", ""},
	{8, "中銀カプセルタワービル", "黒川紀章", 1972, "東京都", "中央区", "東京都中央区銀座8-16-10", 35.6654, 139.7637, "集合住宅", "住宅", "メタボリズム", ""},
	{9, "名称未定の倉庫", "", nil, "北海道", "", "", 0, 0, "倉庫", "産業", "", ""},
	{10, "Tokyo International Forum", "Rafael Viñoly", 1996, "東京都", "千代田区", "東京都千代田区丸の内3-5-1", 35.6767, 139.7638, "ホール", "文化", "hall,glass", ""},
	{11, "100%_test ビル", "テスト設計", 2020, "東京都", "港区", "東京都港区", 35.65, 139.75, "オフィス", "商業", "", ""},
	{12, "国立西洋美術館", "ル・コルビュジエ", 1959, "東京都", "台東区", "東京都台東区上野公園7-7", 35.7155, 139.7758, "美術館", "文化", "世界遺産,美術館", ""},
}

type architect struct {
	id          int64
	name        string
	kana        string
	nameEn      string
	birth       any
	death       any
	nationality string
	category    string
	school      string
}

var architects = []architect{
	{1, "丹下健三", "たんげけんぞう", "Kenzo Tange", 1913, 2005, "日本", "建築家", "東京大学"},
	{2, "安藤忠雄", "あんどうただお", "Tadao Ando", 1941, nil, "日本", "建築家", "独学"},
	{3, "伊東豊雄", "いとうとよお", "Toyo Ito", 1941, nil, "日本", "建築家", "東京大学"},
	{4, "黒川紀章", "くろかわきしょう", "Kisho Kurokawa", 1934, 2007, "日本", "建築家", "京都大学"},
	{5, "ル・コルビュジエ", "るこるびゅじえ", "Le Corbusier", 1887, 1965, "フランス", "建築家", ""},
	{6, "SANAA", "さなあ", "SANAA", nil, nil, "日本", "設計事務所", ""},
}

// BuildingCount is the number of buildings Seed inserts.
var BuildingCount = len(buildings)

// ArchitectCount is the number of architects Seed inserts.
var ArchitectCount = len(architects)

// Seed inserts the fixture rows. The schema must already exist.
func Seed(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, b := range buildings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ZCDARCHITECTURE (
				Z_PK, ZAR_TITLE, ZAR_ARCHITECT, ZAR_YEAR, ZAR_PREFECTURE, ZAR_CITY, ZAR_ADDRESS,
				ZAR_LATITUDE, ZAR_LONGITUDE, ZAR_CATEGORY, ZAR_BIGCATEGORY, ZAR_TAG, ZAR_IMAGE_URL
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.id, b.title, b.architect, b.year, b.prefecture, b.city, b.address,
			b.lat, b.lng, b.category, b.bigCategory, b.tags, b.image); err != nil {
			return fmt.Errorf("insert building %d: %w", b.id, err)
		}
	}

	for _, a := range architects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ZCDARCHITECT (
				ZAR_ID, ZAR_NAME, ZAR_KANA, ZAR_NAMEENG, ZAR_BIRTHYEAR, ZAR_DEATHYEAR,
				ZAR_NATIONALITY, ZAR_CATEGORY, ZAR_SCHOOL
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.id, a.name, a.kana, a.nameEn, a.birth, a.death, a.nationality, a.category, a.school); err != nil {
			return fmt.Errorf("insert architect %d: %w", a.id, err)
		}
	}

	stmts := []string{
		`INSERT INTO ZCDREFERENCE (Z_PK, ZBUILDING, ZTYPE, ZTITLE, ZAUTHOR, ZPUBLISHER, ZYEAR)
		 VALUES (1, 1, 'book', '丹下健三 一本の鉛筆から', '丹下健三', '日本図書センター', 1997)`,
		`INSERT INTO ZCDREFERENCE (Z_PK, ZBUILDING, ZTYPE, ZTITLE, ZURL)
		 VALUES (2, 1, 'website', 'Yoyogi National Gymnasium', 'https://example.com/yoyogi')`,
		`INSERT INTO ZCDVISIT (Z_PK, ZBUILDING, ZSOURCE, ZTITLE, ZAUTHOR, ZURL, ZDATE)
		 VALUES (1, 1, 'note', '代々木を歩く', 'visitor', 'https://note.example.com/1', '2024-05-01')`,
		`INSERT INTO ZCDSOCIALMEDIA (Z_PK, ZBUILDING, ZPLATFORM, ZURL, ZAUTHOR)
		 VALUES (1, 1, 'instagram', 'https://instagram.example.com/p/1', 'photographer')`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("insert side table row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
