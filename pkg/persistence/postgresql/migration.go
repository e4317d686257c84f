package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE routes (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				model_id VARCHAR(255) NOT NULL DEFAULT '',
				state VARCHAR(50) NOT NULL CHECK (state IN ('draft', 'validated', 'ready', 'running', 'done', 'canceled')),
				variables JSONB NOT NULL DEFAULT '{}',
				attached_document_ids JSONB NOT NULL DEFAULT '[]',
				parent_route_id VARCHAR(255) NOT NULL DEFAULT '',
				parent_node_id VARCHAR(255) NOT NULL DEFAULT '',
				initiator VARCHAR(255) NOT NULL DEFAULT '',
				start_time TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_routes_model_id ON routes(model_id);
			CREATE INDEX idx_routes_name ON routes(name);
			CREATE INDEX idx_routes_state ON routes(state);
			CREATE INDEX idx_routes_parent_route_id ON routes(parent_route_id);

			-- Nodes are children of their route; the whole node is kept as a document.
			CREATE TABLE route_nodes (
				route_id VARCHAR(255) NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				state VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (route_id, id)
			);

			CREATE INDEX idx_route_nodes_state ON route_nodes(state);
		`,
		2: `
			CREATE TABLE tasks (
				id VARCHAR(255) PRIMARY KEY,
				route_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('open', 'ended', 'canceled')),
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_route_id ON tasks(route_id);
			CREATE INDEX idx_tasks_status ON tasks(status);
		`,
	}
}
