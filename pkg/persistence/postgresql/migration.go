package postgresql

import "github.com/dukex/concord/pkg/persistence/sqlbase"

func migrations() map[int]string {
	return map[int]string{
		1: sqlbase.DocumentMigration("JSONB", "TIMESTAMP WITH TIME ZONE"),
		2: `
			-- Lookups of definitions, instances and logs by owning workflow or instance
			CREATE INDEX idx_documents_workflow_id ON documents ((body->>'workflow_id'))
				WHERE collection IN ('definitions', 'instances', 'operation_logs');
			CREATE INDEX idx_documents_instance_id ON documents ((body->>'instance_id'))
				WHERE collection = 'operation_logs';
		`,
	}
}
