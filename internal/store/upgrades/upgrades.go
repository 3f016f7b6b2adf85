// Пакет upgrades содержит встроенные SQL-миграции схемы архива.
// DDL один на оба диалекта (SQLite и PostgreSQL): типы колонок и выражения
// подобраны так, чтобы быть валидными в обоих. Применением и таблицей версий
// управляет dbutil.
package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table — реестр миграций, подключаемый через db.Child.
var Table dbutil.UpgradeTable

//go:embed *.sql
var upgrades embed.FS

func init() {
	Table.RegisterFS(upgrades)
}
